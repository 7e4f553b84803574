package correction

import (
	"context"

	"go.uber.org/zap"

	"skilllab/internal/types"
)

// RecordGenerator regenerates a structured record given the source text and
// the enumerated problems with the previous attempt. The Ollama client
// satisfies this; tests use fakes.
type RecordGenerator interface {
	Regenerate(ctx context.Context, record map[string]any, sourceText string, problems []string) (map[string]any, error)
}

// Corrector runs the bounded auto-correction loop.
type Corrector struct {
	Generator   RecordGenerator
	MaxAttempts int
	MinCoverage float64

	// OnAttempt, when set, is called after each regeneration with the
	// 1-based attempt number. The validate step wires this to the
	// document store's correction counter.
	OnAttempt func(attempt int)

	Log *zap.Logger
}

// Outcome is the result of one correction loop run.
type Outcome struct {
	Record         map[string]any
	Valid          bool
	Attempts       int
	Coverage       float64
	StructureValid bool
}

// NewCorrector builds a corrector with defaulted bounds.
func NewCorrector(gen RecordGenerator, maxAttempts int, minCoverage float64, log *zap.Logger) *Corrector {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if minCoverage <= 0 {
		minCoverage = 0.9
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Corrector{
		Generator:   gen,
		MaxAttempts: maxAttempts,
		MinCoverage: minCoverage,
		Log:         log,
	}
}

// Run drives the record toward acceptance: while under the attempt bound,
// score coverage, accept when coverage and structure pass, otherwise
// enumerate problems and regenerate. Transport errors abort the loop; the
// surrounding retry policy already ran inside the generator.
func (c *Corrector) Run(ctx context.Context, sourceText string, initial map[string]any) (Outcome, error) {
	record := initial
	attempts := 0
	coverage := 0.0
	structOK := false

	for attempts < c.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return Outcome{Record: record, Attempts: attempts, Coverage: coverage},
				types.Wrap(types.KindTimeout, err, "correction loop cancelled")
		}

		coverage = CoverageScore(record, sourceText)
		structOK = StructureValid(record)
		if coverage >= c.MinCoverage && structOK {
			return Outcome{
				Record:         record,
				Valid:          true,
				Attempts:       attempts,
				Coverage:       coverage,
				StructureValid: true,
			}, nil
		}

		problems := EnumerateProblems(record, sourceText, coverage, c.MinCoverage)
		c.Log.Debug("regenerating structured record",
			zap.Int("attempt", attempts+1),
			zap.Float64("coverage", coverage),
			zap.Strings("problems", problems))

		next, err := c.Generator.Regenerate(ctx, record, sourceText, problems)
		if err != nil {
			return Outcome{Record: record, Attempts: attempts, Coverage: coverage, StructureValid: structOK}, err
		}
		record = next
		attempts++
		if c.OnAttempt != nil {
			c.OnAttempt(attempts)
		}
	}

	// Attempt bound reached: the document is a validation failure even if
	// the last regeneration happens to score well; reviewers decide.
	coverage = CoverageScore(record, sourceText)
	structOK = StructureValid(record)
	return Outcome{
		Record:         record,
		Valid:          false,
		Attempts:       attempts,
		Coverage:       coverage,
		StructureValid: structOK,
	}, nil
}
