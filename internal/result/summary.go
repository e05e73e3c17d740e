package result

import "slices"

// Summary holds the scene counters of one result document.
type Summary struct {
	Total    int     `json:"total"`
	Success  int     `json:"success"`
	Failed   int     `json:"failed"`
	Skipped  int     `json:"skipped"`
	PassRate float64 `json:"pass_rate"`
}

// Summarize counts top-level scenes. Failed is derived as Total-Success-Skipped, so any
// outcome other than success or skipped (including unknown codes) counts as a failure.
func Summarize(doc *Document) Summary {
	var s Summary
	if doc == nil {
		return s
	}
	s.Total = len(doc.Scenes)
	for _, sc := range doc.Scenes {
		switch sc.Outcome {
		case OutcomeSuccess:
			s.Success++
		case OutcomeSkipped:
			s.Skipped++
		}
	}
	s.Failed = s.Total - s.Success - s.Skipped
	if s.Total > 0 {
		s.PassRate = float64(s.Success) / float64(s.Total) * 100
	}
	return s
}

// StepFailure is one entry of a failure tally.
type StepFailure struct {
	Step     string `json:"step"`
	Failures int    `json:"failures"`
}

// FailureTally walks every step below every scene, at any depth, in document order and
// counts the steps whose outcome is a failure, keyed by step name. Scenes themselves are
// not counted. The result is ordered by descending count; ties keep first-seen order.
func FailureTally(doc *Document) []StepFailure {
	if doc == nil {
		return []StepFailure{}
	}
	var (
		order []string
		count = make(map[string]int)
		stack []*Node
	)
	pushChildren := func(n *Node) {
		// reversed so the leftmost child is popped first
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, &n.Children[i])
		}
	}
	for i := range doc.Scenes {
		pushChildren(&doc.Scenes[i])
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if n.Outcome == OutcomeFailure {
				if _, seen := count[n.Name]; !seen {
					order = append(order, n.Name)
				}
				count[n.Name]++
			}
			pushChildren(n)
		}
	}
	out := make([]StepFailure, 0, len(order))
	for _, name := range order {
		out = append(out, StepFailure{Step: name, Failures: count[name]})
	}
	slices.SortStableFunc(out, func(a, b StepFailure) int { return b.Failures - a.Failures })
	return out
}
