package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/molekcbt/session-gateway/internal/model"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 2*time.Second, zerolog.Nop())
}

func envelopeJSON(data interface{}) []byte {
	raw, _ := json.Marshal(map[string]interface{}{"data": data})
	return raw
}

func TestStartSession(t *testing.T) {
	t.Run("decodes payload and strips answer keys", func(t *testing.T) {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/sessions/start/exam-1" {
				t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			}
			if got := r.Header.Get("Authorization"); got != "Bearer tok" {
				t.Errorf("authorization = %q", got)
			}
			w.Write(envelopeJSON(map[string]interface{}{
				"exam": map[string]interface{}{
					"id":               "exam-1",
					"name":             "Algebra Final",
					"duration_minutes": 90,
				},
				"questions": []map[string]interface{}{
					{
						"id":             "q1",
						"question_text":  "2+2?",
						"options":        map[string]string{"A": "3", "B": "4", "X": "junk"},
						"correct_answer": "B",
					},
				},
				"session":           map[string]interface{}{"token": "sess-tok"},
				"remaining_seconds": 1200,
				"resumed":           true,
				"saved_answers":     map[string]string{"q1": "B", "q9": "Z"},
				"marked_for_review": []string{"q1"},
			}))
		})

		res, err := c.StartSession(context.Background(), Credentials{BearerToken: "tok"}, "exam-1")
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		if res.Session.Token != "sess-tok" || !res.Resumed || res.RemainingSeconds != 1200 {
			t.Fatalf("result = %+v", res)
		}
		q := res.Questions[0]
		if len(q.Options) != 2 {
			t.Fatalf("options = %+v, want unknown labels dropped", q.Options)
		}
		// The wire struct tolerates correct_answer but the result type has
		// nowhere to hold it; the saved answer map also drops junk labels.
		if len(res.SavedAnswers) != 1 || res.SavedAnswers["q1"] != model.OptionB {
			t.Fatalf("saved answers = %+v", res.SavedAnswers)
		}
	})

	t.Run("falls back to full duration", func(t *testing.T) {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write(envelopeJSON(map[string]interface{}{
				"exam":    map[string]interface{}{"id": "exam-1", "duration_minutes": 90},
				"session": map[string]interface{}{"token": "sess-tok"},
			}))
		})

		res, err := c.StartSession(context.Background(), Credentials{}, "exam-1")
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		if res.RemainingSeconds != 90*60 {
			t.Fatalf("remaining = %d, want %d", res.RemainingSeconds, 90*60)
		}
	})
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   Kind
	}{
		{"not found", http.StatusNotFound, `{}`, KindNotFound},
		{"unauthorized", http.StatusUnauthorized, `{}`, KindUnauthorized},
		{"forbidden", http.StatusForbidden, `{}`, KindUnauthorized},
		{"conflict", http.StatusConflict, `{}`, KindNotAvailable},
		{"server error", http.StatusInternalServerError, `{}`, KindServer},
		{
			"window closed by error code",
			http.StatusBadRequest,
			`{"error":{"code":"EXAM_NOT_AVAILABLE","message":"closed"}}`,
			KindNotAvailable,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})
			_, err := c.StartSession(context.Background(), Credentials{}, "exam-1")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := KindOf(err); got != tc.want {
				t.Fatalf("kind = %s, want %s", got, tc.want)
			}
		})
	}

	t.Run("transport failure is network", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		c := NewClient(srv.URL, time.Second, zerolog.Nop())

		err := c.SaveAnswers(context.Background(), Credentials{}, "tok", nil, nil)
		if got := KindOf(err); got != KindNetwork {
			t.Fatalf("kind = %s, want NETWORK", got)
		}
		if !IsTransient(err) {
			t.Fatal("network failure should be transient")
		}
	})
}

func TestSaveAnswersSendsFullSnapshot(t *testing.T) {
	var got savePayload
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/sessions/sess-tok/answers" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write(envelopeJSON(map[string]string{"status": "saved"}))
	})

	answers := model.AnswerState{"q1": model.OptionA, "q2": model.OptionD}
	err := c.SaveAnswers(context.Background(), Credentials{BearerToken: "tok"}, "sess-tok", answers, []string{"q2"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(got.Answers) != 2 || got.Answers["q2"] != "D" {
		t.Fatalf("answers = %+v", got.Answers)
	}
	if len(got.MarkedForReview) != 1 || got.MarkedForReview[0] != "q2" {
		t.Fatalf("marks = %+v", got.MarkedForReview)
	}
}

func TestSubmitSession(t *testing.T) {
	var got submitPayload
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sessions/sess-tok/submit" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write(envelopeJSON(map[string]string{
			"result_id":   "res-9",
			"redirect_to": "/exam/result/res-9",
		}))
	})

	res, err := c.SubmitSession(context.Background(), Credentials{BearerToken: "tok"}, "sess-tok",
		model.AnswerState{"q1": model.OptionC}, 845, true)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.ResultID != "res-9" || res.RedirectTo != "/exam/result/res-9" {
		t.Fatalf("result = %+v", res)
	}
	if got.TimeTaken != 845 || !got.AutoSubmitted || got.Answers["q1"] != "C" {
		t.Fatalf("payload = %+v", got)
	}
}
