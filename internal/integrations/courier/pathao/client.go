package pathao

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/BoiPrint/internal/integrations/courier"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL            = "https://api-hermes.pathao.com"
	DefaultTimeout            = 10 * time.Second
	DefaultCreateOrderTimeout = 15 * time.Second

	apiPrefix    = "/aladdin/api/v1"
	maxBodyBytes = 1 << 20
)

type Client struct {
	baseURL            string
	httpc              *http.Client
	timeout            time.Duration
	createOrderTimeout time.Duration
	limiter            *rate.Limiter
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithCreateOrderTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.createOrderTimeout = d
		}
	}
}

// WithRateLimit paces outbound requests. perSecond <= 0 leaves the client unpaced.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpc = h
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:            strings.TrimRight(baseURL, "/"),
		httpc:              &http.Client{},
		timeout:            DefaultTimeout,
		createOrderTimeout: DefaultCreateOrderTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ courier.Client = (*Client)(nil)

type envelope struct {
	Message string          `json:"message"`
	Type    string          `json:"type"`
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
	Errors  json.RawMessage `json:"errors,omitempty"`
}

type listData struct {
	Data json.RawMessage `json:"data"`
}

type tokenResp struct {
	TokenType    string  `json:"token_type"`
	ExpiresIn    float64 `json:"expires_in"`
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
}

type createOrderData struct {
	ConsignmentID   flexString `json:"consignment_id"`
	MerchantOrderID string     `json:"merchant_order_id"`
	OrderStatus     string     `json:"order_status"`
	DeliveryFee     *flexFloat `json:"delivery_fee"`
}

type orderInfoData struct {
	ConsignmentID   flexString `json:"consignment_id"`
	MerchantOrderID string     `json:"merchant_order_id"`
	OrderStatus     string     `json:"order_status"`
	OrderStatusSlug string     `json:"order_status_slug"`
	UpdatedAt       string     `json:"updated_at"`
}

func (c *Client) IssueToken(ctx context.Context, req courier.TokenRequest) (courier.Token, error) {
	var tr tokenResp
	raw, err := c.do(ctx, http.MethodPost, "/issue-token", "", req, c.timeout)
	if err != nil {
		return courier.Token{}, err
	}
	if err := json.Unmarshal(raw, &tr); err != nil {
		return courier.Token{}, errors.Wrap(err, "decode token")
	}
	if tr.AccessToken == "" {
		return courier.Token{}, &courier.APIError{StatusCode: http.StatusOK, Message: "empty access_token", Body: raw}
	}
	return courier.Token{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		RefreshToken: tr.RefreshToken,
		ExpiresIn:    time.Duration(tr.ExpiresIn * float64(time.Second)),
	}, nil
}

func (c *Client) Cities(ctx context.Context, token string) (json.RawMessage, error) {
	return c.list(ctx, token, "/city-list")
}

func (c *Client) Zones(ctx context.Context, token string, cityID int64) (json.RawMessage, error) {
	return c.list(ctx, token, fmt.Sprintf("/cities/%d/zone-list", cityID))
}

func (c *Client) Areas(ctx context.Context, token string, zoneID int64) (json.RawMessage, error) {
	return c.list(ctx, token, fmt.Sprintf("/zones/%d/area-list", zoneID))
}

func (c *Client) PricePlan(ctx context.Context, token string, req courier.PriceRequest) (json.RawMessage, error) {
	env, err := c.doEnvelope(ctx, http.MethodPost, "/merchant/price-plan", token, req, c.timeout)
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

func (c *Client) CreateOrder(ctx context.Context, token string, req courier.CreateOrderRequest) (courier.CreateOrderResult, error) {
	env, err := c.doEnvelope(ctx, http.MethodPost, "/orders", token, req, c.createOrderTimeout)
	if err != nil {
		return courier.CreateOrderResult{}, err
	}
	var d createOrderData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return courier.CreateOrderResult{}, errors.Wrap(err, "decode order")
	}
	if d.ConsignmentID == "" {
		return courier.CreateOrderResult{}, &courier.APIError{
			StatusCode: http.StatusOK,
			Message:    "courier response has no consignment_id",
			Body:       env.Data,
		}
	}
	res := courier.CreateOrderResult{
		ConsignmentID:   string(d.ConsignmentID),
		MerchantOrderID: d.MerchantOrderID,
		OrderStatus:     d.OrderStatus,
		Raw:             env.Data,
	}
	if d.DeliveryFee != nil {
		res.DeliveryFee = float64(*d.DeliveryFee)
	}
	return res, nil
}

func (c *Client) OrderInfo(ctx context.Context, token, consignmentID string) (courier.OrderInfo, error) {
	path := "/orders/" + url.PathEscape(consignmentID) + "/info"
	env, err := c.doEnvelope(ctx, http.MethodGet, path, token, nil, c.timeout)
	if err != nil {
		return courier.OrderInfo{}, err
	}
	var d orderInfoData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return courier.OrderInfo{}, errors.Wrap(err, "decode order info")
	}
	info := courier.OrderInfo{
		ConsignmentID:   string(d.ConsignmentID),
		MerchantOrderID: d.MerchantOrderID,
		OrderStatus:     d.OrderStatus,
		OrderStatusSlug: d.OrderStatusSlug,
	}
	// Pathao example: "2024-03-05 14:10:51"
	if d.UpdatedAt != "" {
		if t, err := time.ParseInLocation("2006-01-02 15:04:05", d.UpdatedAt, time.UTC); err == nil {
			info.UpdatedAt = &t
		}
	}
	return info, nil
}

func (c *Client) list(ctx context.Context, token, path string) (json.RawMessage, error) {
	env, err := c.doEnvelope(ctx, http.MethodGet, path, token, nil, c.timeout)
	if err != nil {
		return nil, err
	}
	var ld listData
	if err := json.Unmarshal(env.Data, &ld); err != nil {
		return nil, errors.Wrap(err, "decode list")
	}
	if len(ld.Data) == 0 {
		return json.RawMessage("[]"), nil
	}
	return ld.Data, nil
}

func (c *Client) doEnvelope(ctx context.Context, method, path, token string, body any, timeout time.Duration) (envelope, error) {
	raw, err := c.do(ctx, method, path, token, body, timeout)
	if err != nil {
		return envelope{}, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, errors.Wrap(err, "decode envelope")
	}
	return env, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body any, timeout time.Duration) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, waitError(ctx, err)
		}
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encode body")
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, rdr)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, classify(err, "do request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classify(err, "read body")
	}

	if resp.StatusCode/100 != 2 {
		return nil, parseAPIError(resp.StatusCode, raw)
	}
	return raw, nil
}

func parseAPIError(status int, raw []byte) *courier.APIError {
	apiErr := &courier.APIError{StatusCode: status}
	if json.Valid(raw) {
		apiErr.Body = json.RawMessage(raw)
	} else if len(raw) > 0 {
		b, _ := json.Marshal(string(raw))
		apiErr.Body = b
	}

	var env envelope
	if json.Unmarshal(raw, &env) != nil {
		return apiErr
	}
	apiErr.Message = env.Message
	if len(env.Errors) > 0 {
		fields := map[string][]string{}
		var many map[string][]string
		if json.Unmarshal(env.Errors, &many) == nil {
			fields = many
		} else {
			var one map[string]string
			if json.Unmarshal(env.Errors, &one) == nil {
				for k, v := range one {
					fields[k] = []string{v}
				}
			}
		}
		if len(fields) > 0 {
			apiErr.Fields = fields
		}
	}
	return apiErr
}

func classify(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", courier.ErrTimeout, op, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %s: %v", courier.ErrTimeout, op, err)
	}
	return errors.Wrap(err, op)
}

// waitError treats every limiter failure as a timeout unless the caller cancelled.
// Wait fails early with its own error when the reservation would outlive the deadline.
func waitError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return errors.Wrap(err, "rate limit wait")
	}
	return fmt.Errorf("%w: rate limit wait: %v", courier.ErrTimeout, err)
}

// flexString accepts both JSON strings and numbers.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	if string(b) == "null" {
		return nil
	}
	*s = flexString(string(b))
	return nil
}

// flexFloat accepts numbers and numeric strings ("60", "60.00").
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return errors.Wrap(err, "parse number")
	}
	*f = flexFloat(v)
	return nil
}
