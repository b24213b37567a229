package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/influencer-settlement/internal/domain/shipping"
)

const rateKeyPrefix = "settle:rates:"

// RateCache caches carrier rates per request. Cache failures are logged and
// the request goes to the carrier.
type RateCache struct {
	client redis.Cmdable
	next   shipping.RateClient
	ttl    time.Duration
}

var _ shipping.RateClient = (*RateCache)(nil)

// NewRateCache wraps next with a cache that keeps rates for ttl.
func NewRateCache(client redis.Cmdable, next shipping.RateClient, ttl time.Duration) *RateCache {
	return &RateCache{client: client, next: next, ttl: ttl}
}

// Rates implements shipping.RateClient.
func (c *RateCache) Rates(ctx context.Context, req shipping.Request) ([]shipping.Rate, error) {
	key := rateKeyPrefix + req.Key()
	lg := zctx.From(ctx).With(zap.String("key", key))

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		rates, err := decodeRates(raw)
		if err == nil {
			return rates, nil
		}
		lg.Warn("Discard malformed cached rates", zap.Error(err))
	case errors.Is(err, redis.Nil):
	default:
		lg.Warn("Rate cache read failed", zap.Error(err))
	}

	rates, err := c.next.Rates(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := c.client.Set(ctx, key, encodeRates(rates), c.ttl).Err(); err != nil {
		lg.Warn("Rate cache write failed", zap.Error(err))
	}
	return rates, nil
}

func encodeRates(rates []shipping.Rate) []byte {
	var e jx.Encoder
	e.Arr(func(e *jx.Encoder) {
		for _, r := range rates {
			e.Obj(func(e *jx.Encoder) {
				e.Field("product", func(e *jx.Encoder) { e.Str(r.Product) })
				e.Field("delivery_type", func(e *jx.Encoder) { e.Str(r.DeliveryType) })
				e.Field("price", func(e *jx.Encoder) { e.Str(r.Price.String()) })
				e.Field("min_days", func(e *jx.Encoder) { e.Int(r.MinDays) })
				e.Field("max_days", func(e *jx.Encoder) { e.Int(r.MaxDays) })
			})
		}
	})
	return e.Bytes()
}

func decodeRates(data []byte) ([]shipping.Rate, error) {
	rates := []shipping.Rate{}
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var r shipping.Rate
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "product":
				r.Product, err = d.Str()
			case "delivery_type":
				r.DeliveryType, err = d.Str()
			case "price":
				var s string
				if s, err = d.Str(); err == nil {
					r.Price, err = decimal.NewFromString(s)
				}
			case "min_days":
				r.MinDays, err = d.Int()
			case "max_days":
				r.MaxDays, err = d.Int()
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		rates = append(rates, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rates, nil
}
