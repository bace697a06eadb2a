package uploader

import (
	"context"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
)

func TestNewClient_RequiresRegion(t *testing.T) {
	_, err := NewClient(context.Background(), "", "", "", log.NewLogger())
	assert.EqualError(t, err, "region must not be empty")
}
