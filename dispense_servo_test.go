package jar_arm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDegreeCalibration(t *testing.T) {
	cal := DefaultDegreeCalibration
	require.NoError(t, cal.Validate())

	assert.Equal(t, 2048, cal.Raw(0))
	assert.Equal(t, 3071, cal.Raw(90))
	assert.Equal(t, 2059, cal.Raw(1))
	assert.Equal(t, 2036, cal.Raw(-1))
	assert.Equal(t, 0, cal.Raw(-200))
	assert.Equal(t, 4095, cal.Raw(200))
	assert.InDelta(t, 90.0, cal.Degrees(3071), 0.1)

	reversed := DegreeCalibration{RangeMin: 0, RangeMax: 4095, Reversed: true}
	assert.Equal(t, 1024, reversed.Raw(90))
	assert.InDelta(t, 90.0, reversed.Degrees(1024), 0.1)

	narrow := DegreeCalibration{RangeMin: 1000, RangeMax: 3000}
	assert.Equal(t, 3000, narrow.Raw(180))
	assert.Equal(t, 1000, narrow.Raw(-180))
}

func TestDegreeCalibrationValidate(t *testing.T) {
	assert.Error(t, DegreeCalibration{RangeMin: 2000, RangeMax: 1000}.Validate())
	assert.Error(t, DegreeCalibration{RangeMin: 100, RangeMax: 100}.Validate())
	assert.Error(t, DegreeCalibration{RangeMin: -1, RangeMax: 1000}.Validate())
	assert.Error(t, DegreeCalibration{RangeMin: 0, RangeMax: 5000}.Validate())
}

type fakePositioner struct {
	positions []int
	enabled   bool
	err       error
}

func (p *fakePositioner) SetPosition(ctx context.Context, position int) error {
	if p.err != nil {
		return p.err
	}
	p.positions = append(p.positions, position)
	return nil
}

func (p *fakePositioner) Enable(ctx context.Context) error {
	p.enabled = true
	return nil
}

func (p *fakePositioner) Disable(ctx context.Context) error {
	p.enabled = false
	return nil
}

func TestFeetechEffector(t *testing.T) {
	ctx := context.Background()
	servo := &fakePositioner{enabled: true}
	e := &feetechEffector{servo: servo, calibration: DefaultDegreeCalibration}

	require.NoError(t, e.SetAngle(ctx, 90))
	require.NoError(t, e.SetAngle(ctx, 0))
	assert.Equal(t, []int{3071, 2048}, servo.positions)

	require.NoError(t, e.Disable(ctx))
	assert.False(t, servo.enabled)

	servo.err = errors.New("timeout")
	err := e.SetAngle(ctx, 45)
	require.Error(t, err)
	assert.ErrorIs(t, err, servo.err)
}
