package result

import (
	"sort"
)

// Rank assigns competition positions to the records of one competition
// (one exam and subject). Records are ordered by percentage, highest
// first; equal percentages share a position and the next distinct score
// takes its 1-based place, so [90 90 80 70] ranks [1 1 3 4].
//
// Absent records are excluded and get a nil position. Positions are set
// in place. The returned slice holds the ranked records in rank order
// followed by the absent ones; equal scores are ordered by student id.
func Rank(records []*Record) []*Record {
	ranked := make([]*Record, 0, len(records))
	absent := make([]*Record, 0)
	for _, r := range records {
		if r.IsAbsent {
			r.Position = nil
			absent = append(absent, r)
			continue
		}
		ranked = append(ranked, r)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Percentage != ranked[j].Percentage {
			return ranked[i].Percentage > ranked[j].Percentage
		}
		return ranked[i].StudentID < ranked[j].StudentID
	})
	positions := competition(len(ranked), func(i int) bool {
		return ranked[i].Percentage == ranked[i-1].Percentage
	})
	for i, r := range ranked {
		p := positions[i]
		r.Position = &p
	}

	sort.SliceStable(absent, func(i, j int) bool { return absent[i].StudentID < absent[j].StudentID })
	return append(ranked, absent...)
}

// competition returns standard competition positions for n sorted items.
// tied(i) reports whether item i scores the same as item i-1.
func competition(n int, tied func(i int) bool) []int {
	positions := make([]int, n)
	for i := range positions {
		if i > 0 && tied(i) {
			positions[i] = positions[i-1]
			continue
		}
		positions[i] = i + 1
	}
	return positions
}

// BySubject splits records into per-subject competitions.
func BySubject(records []*Record) map[string][]*Record {
	out := make(map[string][]*Record)
	for _, r := range records {
		out[r.Subject] = append(out[r.Subject], r)
	}
	return out
}

// Standing is one student's aggregate over every subject of an exam.
type Standing struct {
	StudentID  string  `json:"studentId"`
	ClassName  string  `json:"className,omitempty"`
	Obtained   float64 `json:"obtained"`
	Total      float64 `json:"total"`
	Percentage float64 `json:"percentage"`
	Grade      string  `json:"grade"`
	Subjects   int     `json:"subjects"`
	Absent     int     `json:"absent"`
	Failed     int     `json:"failed"`
	Position   int     `json:"position"`
}

// Standings builds the merit list of an exam from its subject records.
// An absent subject counts as zero marks out of its total and as a
// failure; a student absent from every subject is left out. Students are
// ranked by overall percentage with the same competition ranking as Rank.
func Standings(records []*Record) []*Standing {
	byStudent := make(map[string]*Standing)
	for _, r := range records {
		s, ok := byStudent[r.StudentID]
		if !ok {
			s = &Standing{StudentID: r.StudentID}
			byStudent[r.StudentID] = s
		}
		if s.ClassName == "" {
			s.ClassName = r.ClassName
		}
		s.Subjects++
		s.Total += r.TotalMarks
		if r.IsAbsent {
			s.Absent++
			s.Failed++
			continue
		}
		s.Obtained += r.ObtainedMarks
		if r.Status == StatusFail {
			s.Failed++
		}
	}

	out := make([]*Standing, 0, len(byStudent))
	for _, s := range byStudent {
		if s.Absent == s.Subjects {
			continue
		}
		exact := Percentage(s.Obtained, s.Total)
		s.Percentage = exact.Round(2).InexactFloat64()
		s.Grade = GradeFor(exact)
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Percentage != out[j].Percentage {
			return out[i].Percentage > out[j].Percentage
		}
		return out[i].StudentID < out[j].StudentID
	})
	positions := competition(len(out), func(i int) bool {
		return out[i].Percentage == out[i-1].Percentage
	})
	for i, s := range out {
		s.Position = positions[i]
	}
	return out
}
