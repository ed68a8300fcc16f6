// Package upstream sells calls to an HTTP API. Each configured service
// forwards the client's request to one upstream URL and, when the upstream
// answers asynchronously, follows its result URL on later polls.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/sebdeveloper6952/gobuffet/domain"
)

const (
	defaultStatusField  = "status"
	defaultSuccessValue = "success"
	maxResponseBytes    = 8 << 20
)

type Config struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	// APIKey is sent as a bearer token, or inside the JSON body under
	// KeyField when that is set.
	APIKey   string `yaml:"api_key"`
	KeyField string `yaml:"key_field"`

	PriceMsat int64 `yaml:"price_msat"`
	Tries     int   `yaml:"tries"`

	// StatusField and SuccessValue tell a finished response from a
	// pending one. An empty StatusField treats every 2xx as finished.
	StatusField  string `yaml:"status_field"`
	SuccessValue string `yaml:"success_value"`
	// ResultURLField names the response field holding the URL to poll for
	// a pending result.
	ResultURLField string `yaml:"result_url_field"`

	// RequiredFields must be present in the request body.
	RequiredFields []string `yaml:"required_fields"`
	// FileField is the multipart field name the uploaded asset is sent as.
	FileField string `yaml:"file_field"`

	Status       domain.OfferingStatus `yaml:"status"`
	Description  string                `yaml:"description"`
	Schema       json.RawMessage       `yaml:"-"`
	OutputSchema json.RawMessage       `yaml:"-"`
}

var (
	_ domain.Service       = (*Service)(nil)
	_ domain.RetryBudgeter = (*Service)(nil)
	_ domain.Offerer       = (*Service)(nil)
)

type Service struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config, client *http.Client) (*Service, error) {
	if cfg.Name == "" {
		return nil, errors.New("upstream: name is required")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("upstream %s: url is required", cfg.Name)
	}
	if cfg.PriceMsat <= 0 {
		return nil, fmt.Errorf("upstream %s: price must be positive", cfg.Name)
	}
	if cfg.Tries <= 0 {
		cfg.Tries = domain.DefaultTries
	}
	if cfg.StatusField != "" && cfg.SuccessValue == "" {
		cfg.SuccessValue = defaultSuccessValue
	}
	if cfg.FileField == "" {
		cfg.FileField = "file"
	}
	if cfg.Status == "" {
		cfg.Status = domain.OfferingUp
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &Service{cfg: cfg, client: client}, nil
}

// DefaultAsync returns the field names of the common "status":"success"
// with "fetch_result" polling convention.
func DefaultAsync(cfg Config) Config {
	if cfg.StatusField == "" {
		cfg.StatusField = defaultStatusField
	}
	if cfg.SuccessValue == "" {
		cfg.SuccessValue = defaultSuccessValue
	}
	if cfg.ResultURLField == "" {
		cfg.ResultURLField = "fetch_result"
	}
	return cfg
}

func (s *Service) Name() string { return s.cfg.Name }

func (s *Service) Price(context.Context, json.RawMessage) (int64, error) {
	return s.cfg.PriceMsat, nil
}

func (s *Service) Tries(context.Context, json.RawMessage) (int, error) {
	return s.cfg.Tries, nil
}

func (s *Service) Validate(_ context.Context, request json.RawMessage) error {
	body := map[string]any{}
	if err := json.Unmarshal(request, &body); err != nil {
		return fmt.Errorf("request must be a JSON object: %w", err)
	}
	for _, f := range s.cfg.RequiredFields {
		if _, ok := body[f]; !ok {
			return fmt.Errorf("missing field %q", f)
		}
	}
	return nil
}

func (s *Service) Offering(endpoint string) domain.Offering {
	return domain.Offering{
		Endpoint:     strings.TrimRight(endpoint, "/") + "/" + s.cfg.Name,
		Status:       s.cfg.Status,
		FixedCost:    s.cfg.PriceMsat,
		VariableCost: 0,
		CostUnits:    "mSATS",
		Schema:       s.cfg.Schema,
		OutputSchema: s.cfg.OutputSchema,
		Description:  s.cfg.Description,
	}
}

func (s *Service) Step(ctx context.Context, in domain.StepInput) domain.Outcome {
	if resultURL := s.resultURL(in.Previous); resultURL != "" {
		body, err := s.body(json.RawMessage("{}"))
		if err != nil {
			return domain.Failed{Message: err.Error()}
		}
		res, err := s.postJSON(ctx, resultURL, body)
		if err != nil {
			return domain.Failed{Message: err.Error()}
		}
		if !s.finished(res) {
			// keep the previous response so the result url survives
			return domain.StillWorking{Payload: in.Previous}
		}
		return domain.Done{Payload: res}
	}

	body, err := s.body(in.Request)
	if err != nil {
		return domain.Failed{Message: err.Error()}
	}

	var res json.RawMessage
	if in.Asset != nil {
		res, err = s.postMultipart(ctx, body, in.Asset)
	} else {
		res, err = s.postJSON(ctx, s.cfg.URL, body)
	}
	if err != nil {
		return domain.Failed{Message: err.Error()}
	}
	if !s.finished(res) {
		return domain.StillWorking{Payload: res}
	}
	return domain.Done{Payload: res}
}

// body returns the request with the API key merged in when it travels in
// the body.
func (s *Service) body(request json.RawMessage) (map[string]any, error) {
	body := map[string]any{}
	if len(request) > 0 {
		if err := json.Unmarshal(request, &body); err != nil {
			return nil, fmt.Errorf("decode request: %w", err)
		}
	}
	if s.cfg.KeyField != "" && s.cfg.APIKey != "" {
		body[s.cfg.KeyField] = s.cfg.APIKey
	}
	return body, nil
}

func (s *Service) finished(res json.RawMessage) bool {
	if s.cfg.StatusField == "" {
		return true
	}
	fields := map[string]any{}
	if err := json.Unmarshal(res, &fields); err != nil {
		return false
	}
	status, _ := fields[s.cfg.StatusField].(string)
	return status == s.cfg.SuccessValue
}

func (s *Service) resultURL(previous json.RawMessage) string {
	if s.cfg.ResultURLField == "" || len(previous) == 0 {
		return ""
	}
	fields := map[string]any{}
	if err := json.Unmarshal(previous, &fields); err != nil {
		return ""
	}
	u, _ := fields[s.cfg.ResultURLField].(string)
	return u
}

func (s *Service) postJSON(ctx context.Context, url string, body map[string]any) (json.RawMessage, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

func (s *Service) postMultipart(ctx context.Context, body map[string]any, asset *domain.Asset) (json.RawMessage, error) {
	f, err := os.Open(asset.Path)
	if err != nil {
		return nil, fmt.Errorf("open asset: %w", err)
	}
	defer f.Close()

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for k, v := range body {
		val, ok := v.(string)
		if !ok {
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			val = string(raw)
		}
		if err := w.WriteField(k, val); err != nil {
			return nil, err
		}
	}
	name := asset.Name
	if name == "" {
		name = filepath.Base(asset.Path)
	}
	part, err := w.CreateFormFile(s.cfg.FileField, name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy asset: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return s.do(req)
}

func (s *Service) do(req *http.Request) (json.RawMessage, error) {
	req.Header.Set("Accept", "application/json")
	if s.cfg.KeyField == "" && s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	res, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.cfg.Name, err)
	}
	defer res.Body.Close()

	b, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", s.cfg.Name, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("%s: upstream status %d: %s", s.cfg.Name, res.StatusCode, strings.TrimSpace(string(b)))
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("%s: upstream returned invalid json", s.cfg.Name)
	}
	return json.RawMessage(b), nil
}
