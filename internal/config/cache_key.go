package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AttemptAnswersKey returns the checkpoint key for an attempt's answer map.
func (r *CacheKeyStruct) AttemptAnswersKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:answers", studentID, examID)
}

// AttemptMarksKey returns the checkpoint key for an attempt's review marks.
func (r *CacheKeyStruct) AttemptMarksKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:marks", studentID, examID)
}

// AttemptTokenKey returns the checkpoint key for an attempt's session token.
func (r *CacheKeyStruct) AttemptTokenKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:session_token", studentID, examID)
}

var CacheKey = NewCacheKeyStruct()
