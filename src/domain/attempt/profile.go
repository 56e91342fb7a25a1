package attempt

import (
	"fmt"
	"math"
	"strings"
)

// Player profile labels shown in the archive.
const (
	ProfileLightning  = "Esprit Fulgurant"
	ProfileStrategist = "Stratège Silencieux"
	ProfileExplorer   = "Explorateur Patient"
	ProfileScout      = "Éclaireur Instinctif"
	ProfileNovice     = "Oracle en Devenir"
)

// Verdict labels.
const (
	VerdictPassed  = "Admis"
	VerdictFailed  = "Refusé"
	VerdictPending = "En cours"
)

// Ritual modes. ProductionMode is the only one that produces a pass/fail
// verdict; DefaultMode applies when the front-end sends none.
const (
	ProductionMode = "Prod"
	DefaultMode    = "TEST"
)

// Profile buckets a result by accuracy, and by speed for top scorers.
func Profile(scoreRaw, scoreMax, timeTotalSeconds int) string {
	if scoreMax <= 0 {
		return ProfileNovice
	}
	switch {
	case scoreRaw*100 >= 85*scoreMax:
		if timeTotalSeconds > 0 && timeTotalSeconds <= 5*scoreMax {
			return ProfileLightning
		}
		return ProfileStrategist
	case scoreRaw*100 >= 65*scoreMax:
		return ProfileExplorer
	case scoreRaw*100 >= 45*scoreMax:
		return ProfileScout
	}
	return ProfileNovice
}

// Verdict passes a production ritual at 75% of score max, rounded half to even.
func Verdict(scoreRaw, scoreMax int, mode string) string {
	if scoreMax <= 0 || mode != ProductionMode {
		return VerdictPending
	}
	threshold := int(math.RoundToEven(float64(scoreMax) * 0.75))
	if threshold < 1 {
		threshold = 1
	}
	if scoreRaw >= threshold {
		return VerdictPassed
	}
	return VerdictFailed
}

// FormatDuration renders seconds as mm:ss.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// FormatAnswers renders one "Q : letter mark" line per answer.
func FormatAnswers(answers []Answer) string {
	if len(answers) == 0 {
		return "-"
	}
	lines := make([]string, 0, len(answers))
	for _, a := range answers {
		qid := a.QuestionID
		if qid == "" {
			qid = "?"
		}
		letter := a.ChoiceLetter
		if letter == "" {
			letter = "-"
		}
		mark := "❌"
		switch {
		case a.Status == AnswerCorrect || (a.Status == "" && a.Correct):
			mark = "✅"
		case a.Status == AnswerTimeout:
			mark = "⏳"
		}
		lines = append(lines, fmt.Sprintf("%s : %s %s", qid, letter, mark))
	}
	return strings.Join(lines, "\n")
}
