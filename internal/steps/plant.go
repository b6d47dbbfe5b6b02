package steps

import (
	"fmt"
	"math"
	"time"

	"github.com/devghori1264/agingwms/internal/models"
)

// plant simulates the physical quantity one step kind drives toward its cutoff.
type plant interface {
	kind() models.StepKind
	label() string
	startMessage() string
	// limit is the safety max duration; zero means none.
	limit() time.Duration
	estimate() time.Duration
	done(elapsed time.Duration) bool
	advance(elapsed, dt time.Duration, rnd func() float64) sample
	progress(elapsed time.Duration) float64
	endReason() string
	doneMessage(capacity float64) string
}

type sample struct {
	voltage     float64
	current     float64
	temperature float64
}

func newPlant(p models.StepParams) (plant, error) {
	switch p := p.(type) {
	case models.RestParams:
		return &restPlant{duration: models.Minutes(p.DurationMinutes)}, nil
	case models.CCChargeParams:
		return &ccPlant{p: p, mv: ccStartMillivolts}, nil
	case models.CVChargeParams:
		return &cvPlant{p: p, current: cvStartCurrent}, nil
	case models.DischargeParams:
		return &dischargePlant{p: p, mv: dischargeStartMillivolts}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported step params %T", models.ErrArgument, p)
	}
}

const (
	ccStartMillivolts        = 3200
	ccStepMillivolts         = 20
	ccCurrentJitter          = 0.05
	cvStartCurrent           = 5.0
	cvDecay                  = 0.95
	cvCurrentFloor           = 0.01
	dischargeStartMillivolts = 4200
	dischargeStepMillivolts  = 50
)

func clampPercent(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

type restPlant struct {
	duration time.Duration
}

func (r *restPlant) kind() models.StepKind                { return models.KindRest }
func (r *restPlant) label() string                        { return "Resting" }
func (r *restPlant) limit() time.Duration                 { return 0 }
func (r *restPlant) estimate() time.Duration              { return r.duration }
func (r *restPlant) done(elapsed time.Duration) bool      { return elapsed >= r.duration }
func (r *restPlant) endReason() string                    { return "Duration" }
func (r *restPlant) doneMessage(capacity float64) string  { return "rest complete" }
func (r *restPlant) startMessage() string {
	return fmt.Sprintf("rest started, planned %.1f min", r.duration.Minutes())
}

func (r *restPlant) advance(_, _ time.Duration, rnd func() float64) sample {
	return sample{temperature: 25.0 + rnd() - 0.5}
}

func (r *restPlant) progress(elapsed time.Duration) float64 {
	if r.duration <= 0 {
		return 100
	}
	return clampPercent(100 * float64(elapsed) / float64(r.duration))
}

// ccPlant raises voltage in fixed millivolt steps so the cutoff tick is exact.
type ccPlant struct {
	p  models.CCChargeParams
	mv int
}

func (c *ccPlant) kind() models.StepKind   { return models.KindCCCharge }
func (c *ccPlant) label() string           { return "CC charging" }
func (c *ccPlant) limit() time.Duration    { return models.Minutes(c.p.MaxDurationMinutes) }
func (c *ccPlant) estimate() time.Duration { return c.limit() }
func (c *ccPlant) endReason() string       { return "CutoffVoltage" }
func (c *ccPlant) voltage() float64        { return float64(c.mv) / 1000 }
func (c *ccPlant) startMessage() string {
	return fmt.Sprintf("CC charge started at %.2fA", c.p.TargetCurrent)
}

func (c *ccPlant) done(time.Duration) bool {
	return c.voltage() >= c.p.CutoffVoltage
}

func (c *ccPlant) advance(elapsed, _ time.Duration, rnd func() float64) sample {
	c.mv += ccStepMillivolts
	return sample{
		voltage:     c.voltage(),
		current:     c.p.TargetCurrent + (rnd()*ccCurrentJitter - ccCurrentJitter/2),
		temperature: 30.0 + elapsed.Minutes()*0.5,
	}
}

func (c *ccPlant) progress(time.Duration) float64 {
	start := float64(ccStartMillivolts) / 1000
	return clampPercent(100 * (c.voltage() - start) / (c.p.CutoffVoltage - start))
}

func (c *ccPlant) doneMessage(capacity float64) string {
	return fmt.Sprintf("CC charge complete, %.3fAh in", capacity)
}

type cvPlant struct {
	p       models.CVChargeParams
	current float64
}

func (c *cvPlant) kind() models.StepKind   { return models.KindCVCharge }
func (c *cvPlant) label() string           { return "CV charging" }
func (c *cvPlant) limit() time.Duration    { return models.Minutes(c.p.MaxDurationMinutes) }
func (c *cvPlant) estimate() time.Duration { return c.limit() }
func (c *cvPlant) endReason() string       { return "CutoffCurrent" }
func (c *cvPlant) startMessage() string {
	return fmt.Sprintf("CV charge started at %.2fV", c.p.TargetVoltage)
}

func (c *cvPlant) done(time.Duration) bool {
	return c.current <= c.p.CutoffCurrent
}

func (c *cvPlant) advance(_, _ time.Duration, _ func() float64) sample {
	c.current = math.Max(c.current*cvDecay, cvCurrentFloor)
	return sample{voltage: c.p.TargetVoltage, current: c.current, temperature: 35.0}
}

func (c *cvPlant) progress(time.Duration) float64 {
	return clampPercent(100 * (cvStartCurrent - c.current) / (cvStartCurrent - c.p.CutoffCurrent))
}

func (c *cvPlant) doneMessage(capacity float64) string {
	return fmt.Sprintf("CV charge complete, %.3fAh in", capacity)
}

type dischargePlant struct {
	p  models.DischargeParams
	mv int
}

func (d *dischargePlant) kind() models.StepKind   { return models.KindDischarge }
func (d *dischargePlant) label() string           { return "Discharging" }
func (d *dischargePlant) limit() time.Duration    { return models.Minutes(d.p.MaxDurationMinutes) }
func (d *dischargePlant) estimate() time.Duration { return d.limit() }
func (d *dischargePlant) endReason() string       { return "CutoffVoltage" }
func (d *dischargePlant) voltage() float64        { return float64(d.mv) / 1000 }
func (d *dischargePlant) startMessage() string {
	return fmt.Sprintf("discharge started at %.2fA", d.p.TargetCurrent)
}

func (d *dischargePlant) done(time.Duration) bool {
	return d.voltage() <= d.p.CutoffVoltage
}

func (d *dischargePlant) advance(_, _ time.Duration, _ func() float64) sample {
	d.mv -= dischargeStepMillivolts
	return sample{voltage: d.voltage(), current: d.p.TargetCurrent, temperature: 40.0}
}

func (d *dischargePlant) progress(time.Duration) float64 {
	start := float64(dischargeStartMillivolts) / 1000
	return clampPercent(100 * (start - d.voltage()) / (start - d.p.CutoffVoltage))
}

func (d *dischargePlant) doneMessage(capacity float64) string {
	return fmt.Sprintf("discharge complete, %.3fAh out", capacity)
}
