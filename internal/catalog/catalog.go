// Package catalog holds the fixed curriculum vocabulary: the six LGS
// subjects and the three difficulty levels. Both are closed enums; user
// input is parsed through this package so unknown values never reach SQL.
package catalog

import "strings"

type Subject string

const (
	SubjectTurkce         Subject = "turkce"
	SubjectMatematik      Subject = "matematik"
	SubjectFenBilimleri   Subject = "fen_bilimleri"
	SubjectSosyalBilgiler Subject = "sosyal_bilgiler"
	SubjectIngilizce      Subject = "ingilizce"
	SubjectDinKulturu     Subject = "din_kulturu"
)

var subjectNames = map[Subject]string{
	SubjectTurkce:         "Türkçe",
	SubjectMatematik:      "Matematik",
	SubjectFenBilimleri:   "Fen Bilimleri",
	SubjectSosyalBilgiler: "Sosyal Bilgiler",
	SubjectIngilizce:      "İngilizce",
	SubjectDinKulturu:     "Din Kültürü ve Ahlak Bilgisi",
}

func Subjects() []Subject {
	return []Subject{
		SubjectTurkce,
		SubjectMatematik,
		SubjectFenBilimleri,
		SubjectSosyalBilgiler,
		SubjectIngilizce,
		SubjectDinKulturu,
	}
}

func ParseSubject(v string) (Subject, bool) {
	s := Subject(strings.ToLower(strings.TrimSpace(v)))
	if _, ok := subjectNames[s]; !ok {
		return "", false
	}
	return s, true
}

func (s Subject) String() string { return string(s) }

func (s Subject) DisplayName() string {
	return subjectNames[s]
}

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

func ParseDifficulty(v string) (Difficulty, bool) {
	switch Difficulty(strings.ToLower(strings.TrimSpace(v))) {
	case DifficultyEasy:
		return DifficultyEasy, true
	case DifficultyMedium:
		return DifficultyMedium, true
	case DifficultyHard:
		return DifficultyHard, true
	default:
		return "", false
	}
}

func (d Difficulty) String() string { return string(d) }

// DefaultPoints is the point value a question of this difficulty gets
// when the author does not set one explicitly.
func (d Difficulty) DefaultPoints() int {
	switch d {
	case DifficultyEasy:
		return 1
	case DifficultyMedium:
		return 2
	case DifficultyHard:
		return 3
	default:
		return 1
	}
}
