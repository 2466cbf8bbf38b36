package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/commissionledger/pkg/config"
)

func TestLimitFromConfigDefaultsBurstToRate(t *testing.T) {
	l := LimitFromConfig(config.RateLimitConfig{Enabled: true, Rate: 5, Period: time.Minute})
	assert.Equal(t, Limit{Rate: 5, Period: time.Minute, Burst: 5}, l)
	require.NoError(t, l.Validate())

	l = LimitFromConfig(config.RateLimitConfig{Rate: 5, Period: time.Minute, Burst: 10})
	assert.Equal(t, 10, l.Burst)
}

func TestLimitValidate(t *testing.T) {
	assert.ErrorIs(t, Limit{Rate: 0, Period: time.Minute}.Validate(), ErrInvalidLimit)
	assert.ErrorIs(t, Limit{Rate: 3}.Validate(), ErrInvalidLimit)
}

func TestKeyAndHeaders(t *testing.T) {
	assert.Equal(t, "ratelimit:payout_request:u-1", Key("payout_request", "u-1"))

	d := &Decision{RetryAfter: 1500 * time.Millisecond, ResetAfter: 59 * time.Second}
	assert.Equal(t, "2", d.RetryAfterHeader())
	assert.Equal(t, "59", d.ResetHeader())
}

func TestGCRARejectsInvalidLimitBeforeRedis(t *testing.T) {
	// 规则无效时不会访问 Redis，nil 客户端也不会被调用
	g := &GCRA{}
	_, err := g.Allow(context.Background(), Key("payout_request", "u-1"), Limit{Period: time.Minute})
	assert.ErrorIs(t, err, ErrInvalidLimit)
}
