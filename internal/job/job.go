// Package job decodes and validates due-diligence job payloads.
package job

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed marks a payload that cannot become a Job.
var ErrMalformed = errors.New("malformed job payload")

// DefaultPages is the page budget used when a payload omits one.
const DefaultPages = 3

const maxEnvelopeDepth = 3

// Payload is the wire shape of a job request.
type Payload struct {
	VendorName string   `json:"vendor_name"`
	ScheduleID string   `json:"schedule_id"`
	Pages      int      `json:"pages"`
	Directors  []string `json:"directors"`
	WebsiteURL *string  `json:"website_url"`
	Crawlers   []string `json:"crawlers"`
}

// Job is a validated request. It is immutable once decoded.
type Job struct {
	ID        string
	Subject   string
	Directors []string
	SiteURL   string
	Pages     int
	Variants  []string
}

// IDGenerator mints job ids for payloads without one.
type IDGenerator interface {
	NewID() (string, error)
}

// Decoder unwraps transport envelopes and validates the payload inside.
type Decoder struct {
	ids IDGenerator
}

// NewDecoder builds a Decoder.
func NewDecoder(ids IDGenerator) *Decoder {
	return &Decoder{ids: ids}
}

// Decode accepts a bare payload, a notification wrapper carrying the payload
// as a JSON string in "Message" (optionally nested under "Sns"), or a push
// envelope carrying it base64-encoded in "message.data".
func (d *Decoder) Decode(body []byte) (Job, error) {
	payload, err := unwrap(body, 0)
	if err != nil {
		return Job{}, err
	}
	return d.validate(payload)
}

func unwrap(body []byte, depth int) (Payload, error) {
	if depth > maxEnvelopeDepth {
		return Payload{}, fmt.Errorf("%w: envelopes nested too deeply", ErrMalformed)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(body), &fields); err != nil {
		return Payload{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if _, ok := fields["vendor_name"]; ok {
		var p Payload
		if err := json.Unmarshal(body, &p); err != nil {
			return Payload{}, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		return p, nil
	}
	if raw, ok := fields["Message"]; ok {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return unwrap(raw, depth+1)
		}
		return unwrap([]byte(inner), depth+1)
	}
	if raw, ok := fields["Sns"]; ok {
		return unwrap(raw, depth+1)
	}
	if raw, ok := fields["message"]; ok {
		var push struct {
			Data string `json:"data"`
		}
		if err := json.Unmarshal(raw, &push); err != nil || push.Data == "" {
			return Payload{}, fmt.Errorf("%w: push envelope without data", ErrMalformed)
		}
		inner, err := base64.StdEncoding.DecodeString(push.Data)
		if err != nil {
			return Payload{}, fmt.Errorf("%w: push data: %w", ErrMalformed, err)
		}
		return unwrap(inner, depth+1)
	}
	return Payload{}, fmt.Errorf("%w: unrecognized envelope", ErrMalformed)
}

func (d *Decoder) validate(p Payload) (Job, error) {
	j := Job{
		Subject: strings.TrimSpace(p.VendorName),
		ID:      strings.TrimSpace(p.ScheduleID),
		Pages:   p.Pages,
	}
	if j.Subject == "" {
		return Job{}, fmt.Errorf("%w: vendor_name is required", ErrMalformed)
	}
	if j.Pages <= 0 {
		j.Pages = DefaultPages
	}
	if p.WebsiteURL != nil {
		j.SiteURL = strings.TrimSpace(*p.WebsiteURL)
	}
	for _, name := range p.Directors {
		if name = strings.TrimSpace(name); name != "" {
			j.Directors = append(j.Directors, name)
		}
	}
	seen := make(map[string]struct{})
	for _, tag := range p.Crawlers {
		tag = strings.TrimSpace(tag)
		key := strings.ToUpper(tag)
		if _, dup := seen[key]; tag == "" || dup {
			continue
		}
		seen[key] = struct{}{}
		j.Variants = append(j.Variants, tag)
	}
	if len(j.Variants) == 0 {
		return Job{}, fmt.Errorf("%w: crawlers must name at least one variant", ErrMalformed)
	}

	if j.ID == "" {
		if d.ids == nil {
			return Job{}, fmt.Errorf("%w: schedule_id is required", ErrMalformed)
		}
		id, err := d.ids.NewID()
		if err != nil {
			return Job{}, fmt.Errorf("generate job id: %w", err)
		}
		j.ID = id
	}
	if !validID(j.ID) {
		return Job{}, fmt.Errorf("%w: schedule_id %q is not a valid path segment", ErrMalformed, j.ID)
	}
	return j, nil
}

// validID rejects ids that would escape or nest inside the work root.
func validID(id string) bool {
	if id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`) && !strings.Contains(id, "..")
}
