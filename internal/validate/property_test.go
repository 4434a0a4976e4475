package validate

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/roach88/rsi/internal/queue"
	"github.com/roach88/rsi/internal/record"
	"github.com/roach88/rsi/internal/testutil"
)

// processInspection builds an inspection from five property bits: restart
// script, executable bit, process keywords, sleep, monitor script.
func processInspection(bits uint8) Inspection {
	in := Inspection{Kind: record.KindProcessFailure, Complete: true, Files: map[string]FileFacts{}}
	if bits&1 != 0 {
		f := FileFacts{Size: 1, Content: "echo\n"}
		if bits&2 != 0 {
			f.Executable = true
		}
		if bits&4 != 0 {
			f.Content += "pkill -f x\nnohup x &\n"
		}
		if bits&8 != 0 {
			f.Content += "sleep 2\n"
		}
		in.Files["restart.sh"] = f
	}
	if bits&16 != 0 {
		in.Files["monitor.sh"] = FileFacts{Size: 1, Content: "pgrep x\n"}
	}
	return in
}

func TestScoreMonotonicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	checks := Rubric(record.KindProcessFailure)

	properties.Property("adding a property never lowers the score", prop.ForAll(
		func(bits uint8, extra uint8) bool {
			bits &= 31
			more := bits | (1 << (extra % 5))
			p1, _, _ := Score(checks, processInspection(bits))
			p2, _, _ := Score(checks, processInspection(more))
			return p2 >= p1
		},
		gen.UInt8(),
		gen.UInt8(),
	))

	properties.Property("score stays in [0,1] and passes only at the threshold", prop.ForAll(
		func(bits uint8) bool {
			points, score, _ := Score(checks, processInspection(bits&31))
			passed := score >= DefaultThreshold
			return score >= 0 && score <= 1 && passed == (points >= 80)
		},
		gen.UInt8(),
	))

	properties.Property("incomplete artifacts score zero", prop.ForAll(
		func(bits uint8) bool {
			in := processInspection(bits & 31)
			in.Complete = false
			points, _, _ := Score(checks, in)
			return points == 0
		},
		gen.UInt8(),
	))

	properties.TestingRun(t)
}

func TestRetryCapProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 8
	properties := gopter.NewProperties(parameters)

	properties.Property("an always-failing proposal escalates after exactly max attempts", prop.ForAll(
		func(maxRetries int) bool {
			q, err := queue.New(queue.NewLayout(t.TempDir()), queue.WithLogger(testutil.DiscardLogger()))
			if err != nil {
				return false
			}
			propose(t, q, "prop_1", alwaysFailing())
			reports := runCycles(t, q, maxRetries, maxRetries+2)
			if len(reports) != maxRetries {
				return false
			}
			exhausted := 0
			for _, r := range reports {
				if r.Exhausted {
					exhausted++
					if r.RetryCount != maxRetries || r.NextAction != record.NextEscalate {
						return false
					}
				}
			}
			return exhausted == 1
		},
		gen.IntRange(1, 6),
	))

	properties.TestingRun(t)
}
