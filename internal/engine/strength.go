package engine

import "fmt"

const (
	MinLevel = 1
	MaxLevel = 8
)

type strength struct {
	skill int
	elo   int
}

// Levels 1-7 limit the engine; 8 is full strength.
var strengths = map[int]strength{
	1: {0, 1350},
	2: {3, 1500},
	3: {6, 1700},
	4: {9, 1900},
	5: {12, 2100},
	6: {15, 2300},
	7: {18, 2600},
}

// options returns the setoption commands for a strength level.
func options(level int) ([]string, error) {
	if level < MinLevel || level > MaxLevel {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLevel, level)
	}
	if level == MaxLevel {
		return []string{
			"setoption name UCI_LimitStrength value false",
			"setoption name Skill Level value 20",
		}, nil
	}
	s := strengths[level]
	return []string{
		fmt.Sprintf("setoption name Skill Level value %d", s.skill),
		"setoption name UCI_LimitStrength value true",
		fmt.Sprintf("setoption name UCI_Elo value %d", s.elo),
	}, nil
}
