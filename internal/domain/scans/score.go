package scans

// ScoreResult is recomputed from the finding set whenever a job completes.
type ScoreResult struct {
	Score  int            `json:"score"`
	Grade  string         `json:"grade"`
	Counts SeverityCounts `json:"counts"`
}

// Scorer turns findings into a 0-100 score. The zero value uses
// DefaultHighRiskInfo.
type Scorer struct {
	HighRiskInfo []string
}

// Score with the default high-risk-info patterns.
func Score(findings []*Finding) ScoreResult {
	return Scorer{}.Score(findings)
}

func (s Scorer) Score(findings []*Finding) ScoreResult {
	patterns := s.HighRiskInfo
	if patterns == nil {
		patterns = DefaultHighRiskInfo
	}

	var c SeverityCounts
	penalty := 0
	for _, f := range findings {
		if f == nil {
			continue
		}
		sev := NormalizeSeverity(string(f.Severity))
		switch sev {
		case SeverityCritical:
			c.Critical++
		case SeverityHigh:
			c.High++
		case SeverityMedium:
			c.Medium++
		case SeverityLow:
			c.Low++
		case SeverityInfo:
			c.Info++
			if IsHighRiskInfo(sev, f.TemplateID, patterns) {
				penalty++
			}
		}
		c.Total++
	}

	score := 100 - penalty
	score -= min(c.Critical*25, 50)
	score -= min(c.High*15, 30)
	score -= min(c.Medium*5, 15)
	score -= min(c.Low*2, 6)
	score = max(0, min(score, 100))

	return ScoreResult{Score: score, Grade: GradeFor(score), Counts: c}
}

// GradeFor maps a score to a letter grade; thresholds are inclusive.
func GradeFor(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B+"
	case score >= 70:
		return "B"
	case score >= 60:
		return "B-"
	case score >= 50:
		return "C"
	case score >= 40:
		return "D"
	default:
		return "F"
	}
}

// GradeRank orders grades from F (0) to A (6); unknown grades rank -1.
func GradeRank(grade string) int {
	for i, g := range []string{"F", "D", "C", "B-", "B", "B+", "A"} {
		if g == grade {
			return i
		}
	}
	return -1
}
