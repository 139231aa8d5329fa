package trade

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/SergeySdv/backpack-volume-auto/internal/models"
)

func TestIsFatalSeesThroughWrapping(t *testing.T) {
	err := Fatalf("insufficient funds")
	assert.True(t, IsFatal(err))
	assert.True(t, IsFatal(errors.Wrap(err, "buy SOL_USDC")))
	assert.False(t, IsFatal(errors.New("transient")))
	assert.False(t, IsFatal(nil))
}

func TestIsFOKReject(t *testing.T) {
	reject := &models.APIError{StatusCode: 400, Body: "Fill or kill order would not complete fill immediately"}
	assert.True(t, IsFOKReject(reject))
	assert.True(t, IsFOKReject(errors.Wrap(reject, "sell")))
	assert.False(t, IsFOKReject(&models.APIError{StatusCode: 400, Body: "Invalid order"}))
	assert.False(t, IsFOKReject(errors.New("Fill or kill order would not complete fill immediately")))
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))

	fok := &models.APIError{StatusCode: 400, Body: "Fill or kill order would not complete fill immediately"}
	assert.Equal(t, error(fok), classify(fok))

	funds := classify(&models.APIError{StatusCode: 400, Body: "Insufficient funds"})
	assert.True(t, IsFatal(funds))

	auth := classify(&models.APIError{StatusCode: 401, Body: "unauthorized"})
	assert.True(t, IsFatal(auth))

	transient := classify(&models.APIError{StatusCode: 500, Body: "internal error"})
	assert.False(t, IsFatal(transient))
}
