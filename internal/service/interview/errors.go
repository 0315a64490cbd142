package interview

import "errors"

var (
	errEmptyGeneration = errors.New("generator returned empty text")
	errNoFirstQuestion = errors.New("generator ended the interview before the first question")
)
