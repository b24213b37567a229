// Package carrier is an HTTP client for the carrier rate API.
package carrier

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/influencer-settlement/internal/domain/shipping"
)

// Config holds the carrier API settings.
type Config struct {
	BaseURL    string
	APIKey     string
	CustomerID string
	Timeout    time.Duration
}

// Client fetches rates from the carrier.
type Client struct {
	cfg  Config
	http *http.Client
}

var _ shipping.RateClient = (*Client)(nil)

// New creates a Client with an instrumented transport.
func New(cfg Config, tp trace.TracerProvider, mp metric.MeterProvider) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithTracerProvider(tp),
				otelhttp.WithMeterProvider(mp),
			),
		},
	}
}

// StatusError is a non-2xx carrier response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return "carrier responded " + strconv.Itoa(e.Code) + ": " + e.Body
}

// Rates implements shipping.RateClient.
func (c *Client) Rates(ctx context.Context, req shipping.Request) ([]shipping.Rate, error) {
	body := encodeRequest(c.cfg.CustomerID, req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/rates", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode/100 != 2 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	rates, err := decodeRates(data)
	if err != nil {
		return nil, errors.Wrap(err, "decode rates")
	}
	return rates, nil
}

func encodeRequest(customerID string, req shipping.Request) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		if customerID != "" {
			e.Field("customerId", func(e *jx.Encoder) { e.Str(customerID) })
		}
		e.Field("postalCodeOrigin", func(e *jx.Encoder) { e.Str(req.OriginPostalCode) })
		e.Field("postalCodeDestination", func(e *jx.Encoder) { e.Str(req.DestinationPostalCode) })
		e.Field("dimensions", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("weight", func(e *jx.Encoder) { e.Int(req.Package.WeightGrams) })
				e.Field("height", func(e *jx.Encoder) { e.Int(req.Package.HeightCm) })
				e.Field("width", func(e *jx.Encoder) { e.Int(req.Package.WidthCm) })
				e.Field("length", func(e *jx.Encoder) { e.Int(req.Package.LengthCm) })
			})
		})
	})
	return e.Bytes()
}

func decodeRates(data []byte) ([]shipping.Rate, error) {
	var rates []shipping.Rate
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "rates" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			r, err := decodeRate(d)
			if err != nil {
				return err
			}
			rates = append(rates, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rates, nil
}

func decodeRate(d *jx.Decoder) (shipping.Rate, error) {
	var r shipping.Rate
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productType":
			r.Product, err = d.Str()
		case "deliveredType":
			r.DeliveryType, err = d.Str()
		case "price":
			r.Price, err = decodeDecimal(d)
		case "deliveryTimeMin":
			r.MinDays, err = decodeDays(d)
		case "deliveryTimeMax":
			r.MaxDays, err = decodeDays(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	return r, err
}

// decodeDecimal reads a price sent either as a JSON number or string.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = s
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = n.String()
	}
	return decimal.NewFromString(raw)
}

// decodeDays reads a day count sent either as a JSON number or string.
func decodeDays(d *jx.Decoder) (int, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return 0, err
		}
		if s == "" {
			return 0, nil
		}
		return strconv.Atoi(s)
	}
	return d.Int()
}
