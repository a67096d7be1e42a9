package model

// ExamDefinition is the read-only exam metadata fetched once at session start.
// Immutable for the lifetime of a session.
type ExamDefinition struct {
	ID              string  `json:"id"`
	Name            string  `json:"exam_name"`
	SubjectName     string  `json:"subject_name"`
	TotalQuestions  int     `json:"total_questions"`
	DurationMinutes int     `json:"duration_minutes"`
	PassingScore    float64 `json:"passing_score"`
}

// OptionLabel identifies one answer option of a multiple-choice question.
type OptionLabel string

const (
	OptionA OptionLabel = "A"
	OptionB OptionLabel = "B"
	OptionC OptionLabel = "C"
	OptionD OptionLabel = "D"
	OptionE OptionLabel = "E"
)

// KnownOptionLabels is the fixed set of labels a question may carry, in
// display order.
var KnownOptionLabels = []OptionLabel{OptionA, OptionB, OptionC, OptionD, OptionE}

// IsValidOptionLabel reports whether s is one of the known labels.
func IsValidOptionLabel(s string) bool {
	for _, l := range KnownOptionLabels {
		if string(l) == s {
			return true
		}
	}
	return false
}

// Question is a single exam question as seen by the student during an
// active attempt. Absent labels in Options mean the option does not exist
// for this question. The correct answer is never present here; the backend
// client strips it if the collaborator leaks one.
type Question struct {
	ID      string                 `json:"id"`
	Prompt  string                 `json:"question_text"`
	Options map[OptionLabel]string `json:"options"`
}

// HasOption reports whether the question offers the given label.
func (q *Question) HasOption(label OptionLabel) bool {
	_, ok := q.Options[label]
	return ok
}
