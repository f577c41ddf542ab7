package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_DoublesAndCaps(t *testing.T) {
	assert.Equal(t, 2*time.Second, Backoff(1))
	assert.Equal(t, 4*time.Second, Backoff(2))
	assert.Equal(t, 8*time.Second, Backoff(3))
	assert.Equal(t, 5*time.Minute, Backoff(20))
}

func TestBackoff_ClampsNonPositiveToFirstAttempt(t *testing.T) {
	assert.Equal(t, Backoff(1), Backoff(0))
	assert.Equal(t, Backoff(1), Backoff(-5))
}

func TestJobTimeout(t *testing.T) {
	assert.Equal(t, 10*time.Minute, JobTimeout(QueueImage))
	assert.Equal(t, 30*time.Minute, JobTimeout(QueueModel))
	assert.Equal(t, 10*time.Minute, JobTimeout(QueueName("unknown")))
}
