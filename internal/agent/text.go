package agent

import (
	"fmt"

	"github.com/MrWong99/lexi/internal/assessment"
)

// Fixed interviewer lines.
const (
	ReadingInstruction = "Read the passage, then say its translation in English."

	MsgRepeat        = "Sorry, I didn't catch that. Could you please repeat your answer?"
	MsgAudioFailed   = "Failed to process audio. Could you please repeat your answer?"
	MsgScoringFailed = "Failed to evaluate your answer. Could you please answer again?"
)

var followups = []string{
	"Could you tell me a little more about that?",
	"Can you give me an example?",
}

func greeting(language string) string {
	return fmt.Sprintf("Hello! Thank you for joining. Let's begin your %s assessment.", language)
}

func readingIntro(language string) string {
	return "Alright! We've had a great conversation. " +
		"Now we're going to move to the reading portion of the evaluation. " +
		fmt.Sprintf("I'll show you some text in %s, and I'd like you to read it and then translate it to English. Ready?", language)
}

func followup(depth int) string {
	return followups[(max(depth, 1)-1)%len(followups)]
}

func closing(r assessment.Result) string {
	opening := "Thank you! That concludes your assessment."
	if r.Reason == assessment.TriggerFailures {
		opening = "We're having trouble processing your answers, so we'll end the assessment here. Thank you for your time."
	}
	if r.Level == assessment.LevelUnrated {
		return opening + " We didn't collect enough answers to estimate your level."
	}
	return fmt.Sprintf("%s Your estimated level is %s.", opening, r.Level)
}

func readingFeedback(feedback string) string {
	if feedback == "" {
		return "Thank you for your translation."
	}
	return feedback
}
