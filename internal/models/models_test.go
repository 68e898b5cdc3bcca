package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestAnswersCloneIsIndependent(t *testing.T) {
	var nilAnswers Answers
	if c := nilAnswers.Clone(); c == nil {
		t.Error("Clone of nil answers should be an empty map")
	}

	a := Answers{"rol": "tutor"}
	c := a.Clone()
	c["rol"] = "editor"
	c["tono"] = "formal"
	if a["rol"] != "tutor" || len(a) != 1 {
		t.Errorf("original answers were modified: %v", a)
	}
}

func TestValidateRequestValidate(t *testing.T) {
	if err := (ValidateRequest{}).Validate(); !errors.Is(err, ErrEmptyQuestion) {
		t.Errorf("expected ErrEmptyQuestion, got %v", err)
	}
	if err := (ValidateRequest{QuestionID: "rol", Answer: ""}).Validate(); err != nil {
		t.Errorf("an empty answer is for the backend to judge, got %v", err)
	}
}

func TestPromptRequestValidate(t *testing.T) {
	if err := (PromptRequest{}).Validate(); !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("expected ErrEmptyPrompt, got %v", err)
	}
	if err := (PromptRequest{Prompt: "x"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateRequestWireFormat(t *testing.T) {
	b, err := json.Marshal(ValidateRequest{QuestionID: "q1", Answer: "hola", History: Answers{}})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"question_id":"q1","answer":"hola","history":{}}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}

func TestScorecardCriterion(t *testing.T) {
	var empty Scorecard
	if empty.Criterion(CriterionRol) != 0 {
		t.Error("missing criteria should read as 0")
	}

	var sc Scorecard
	if err := json.Unmarshal([]byte(`{"total":27.5,"max":30,"criteria":{"rol":5,"tono":4.5}}`), &sc); err != nil {
		t.Fatal(err)
	}
	if sc.Criterion(CriterionTono) != 4.5 || sc.Criterion(CriterionCalidad) != 0 {
		t.Errorf("unexpected criteria: %v", sc.Criteria)
	}
	if len(CriteriaNames) != 6 || CriteriaNames[0] != CriterionRol || CriteriaNames[5] != CriterionCalidad {
		t.Errorf("criteria order changed: %v", CriteriaNames)
	}
}

func TestFormatScore(t *testing.T) {
	tests := map[float64]string{30: "30", 27.5: "27.5", 0: "0"}
	for v, want := range tests {
		if got := FormatScore(v); got != want {
			t.Errorf("FormatScore(%v) = %q, want %q", v, got, want)
		}
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	ok := Success(map[string]int{"n": 1})
	if ok.Status != string(APIStatusOK) || ok.Message != "" {
		t.Errorf("unexpected success response: %+v", ok)
	}
	bad := Error("boom")
	b, _ := json.Marshal(bad)
	if string(b) != `{"status":"error","message":"boom"}` {
		t.Errorf("unexpected error body: %s", b)
	}
}
