package transcribe

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Pool boundaries by recording duration.
const (
	ShortLimit  = 15 * time.Second
	MediumLimit = 45 * time.Second
)

// Pool identifies a set of template transcripts.
type Pool int

const (
	PoolShort Pool = iota
	PoolMedium
	PoolLong
)

func (p Pool) String() string {
	switch p {
	case PoolShort:
		return "short"
	case PoolMedium:
		return "medium"
	default:
		return "long"
	}
}

// PoolFor picks the pool for a recording of duration d.
func PoolFor(d time.Duration) Pool {
	switch {
	case d < ShortLimit:
		return PoolShort
	case d < MediumLimit:
		return PoolMedium
	default:
		return PoolLong
	}
}

// Templates are the canned clinical notes per pool.
var Templates = map[Pool][]string{
	PoolShort: {
		"Patient seen for follow up. Vitals stable. Continue current medications.",
		"Brief visit for prescription refill. No new complaints. Refill sent to pharmacy.",
		"Wound check today. Healing well with no signs of infection. Return as needed.",
	},
	PoolMedium: {
		"Patient presents with a three day history of sore throat and low grade fever. " +
			"Exam shows mild pharyngeal erythema without exudate. Rapid strep negative. " +
			"Plan supportive care with fluids and rest, return if symptoms worsen.",
		"Follow up for hypertension. Home readings average 135 over 85. " +
			"Tolerating lisinopril without side effects. Continue current dose and recheck in three months.",
		"Patient reports intermittent lower back pain after lifting at work. " +
			"No radicular symptoms. Exam notable for paraspinal tenderness. " +
			"Recommend NSAIDs, heat and physical therapy referral.",
	},
	PoolLong: {
		"Patient is a 58 year old with type 2 diabetes presenting for routine management. " +
			"Reports good adherence to metformin and improved diet. Denies polyuria, polydipsia or visual changes. " +
			"Last A1c was 7.4 percent. Exam shows intact monofilament sensation bilaterally and no foot ulcers. " +
			"Blood pressure 128 over 78. Plan to continue metformin, order repeat A1c and lipid panel, " +
			"refer for annual eye exam and follow up in three months.",
		"Patient presents with two weeks of productive cough, mild shortness of breath on exertion and fatigue. " +
			"No chest pain or hemoptysis. History of mild intermittent asthma. " +
			"Exam reveals scattered expiratory wheezes without focal crackles. Oxygen saturation 96 percent on room air. " +
			"Assessment is asthma exacerbation likely triggered by viral infection. " +
			"Start a short oral steroid course, increase inhaler use as directed and return in one week or sooner if breathing worsens.",
		"Annual wellness visit. Patient feels well overall and exercises three times weekly. " +
			"Up to date on immunizations except influenza, which was given today. " +
			"Reviewed family history of colon cancer and discussed screening colonoscopy, referral placed. " +
			"Labs ordered include comprehensive metabolic panel, lipid panel and thyroid function. " +
			"Counseled on sleep hygiene and sun protection. Next wellness visit in one year.",
	},
}

// Synthetic returns a canned transcript from the pool matching the
// recording duration after a simulated processing delay.
type Synthetic struct {
	clock clockwork.Clock
	delay time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// SyntheticOption configures Synthetic.
type SyntheticOption func(*Synthetic)

// WithClock sets the clock used for the processing delay.
func WithClock(c clockwork.Clock) SyntheticOption {
	return func(s *Synthetic) { s.clock = c }
}

// WithRand sets the random source used to pick within a pool.
func WithRand(r *rand.Rand) SyntheticOption {
	return func(s *Synthetic) { s.rnd = r }
}

// NewSynthetic creates a synthetic transcriber with the given delay.
func NewSynthetic(delay time.Duration, opts ...SyntheticOption) *Synthetic {
	s := &Synthetic{
		clock: clockwork.NewRealClock(),
		delay: delay,
		rnd:   rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Synthetic) Name() string { return "synthetic" }

func (s *Synthetic) Transcribe(ctx context.Context, req Request) (string, error) {
	if s.delay > 0 {
		select {
		case <-s.clock.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	pool := Templates[PoolFor(req.Duration)]
	s.mu.Lock()
	i := s.rnd.IntN(len(pool))
	s.mu.Unlock()
	return pool[i], nil
}
