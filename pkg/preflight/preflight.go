// Package preflight checks what a bucket allows before real work starts.
package preflight

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/q99/cloudservices/pkg/provider"
)

// Mode defines how aggressive preflight checks are.
type Mode string

const (
	ModeReadSafe  Mode = "read-safe"
	ModeReadWrite Mode = "read-write"
)

// ParseMode validates a mode name. Empty selects ModeReadSafe.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeReadSafe:
		return ModeReadSafe, nil
	case ModeReadWrite:
		return ModeReadWrite, nil
	default:
		return "", fmt.Errorf("unknown preflight mode %q", s)
	}
}

// Capability names are stable strings used in reports.
const (
	CapList   = "source.list"
	CapRead   = "source.read"
	CapWrite  = "target.write"
	CapDelete = "target.delete"
)

// DefaultMarkerPrefix is where write checks place their marker object.
const DefaultMarkerPrefix = "_cloudservices/preflight/"

// Result is the outcome of one capability check.
type Result struct {
	Capability string `json:"capability" yaml:"capability"`
	Allowed    bool   `json:"allowed" yaml:"allowed"`
	Method     string `json:"method" yaml:"method"`
	ErrorCode  string `json:"error_code,omitempty" yaml:"error_code,omitempty"`
	Detail     string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Report collects the checks run against one bucket.
type Report struct {
	Provider string   `json:"provider" yaml:"provider"`
	Bucket   string   `json:"bucket" yaml:"bucket"`
	Prefix   string   `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Mode     Mode     `json:"mode" yaml:"mode"`
	Results  []Result `json:"results" yaml:"results"`
}

// OK reports whether every check passed.
func (r *Report) OK() bool {
	for _, res := range r.Results {
		if !res.Allowed {
			return false
		}
	}
	return true
}

// Run checks prov. Listing is always tried. If the listing returns an
// object, a read of that object is tried too. ModeReadWrite also puts a
// small object under DefaultMarkerPrefix and deletes it again.
//
// The returned error is the first failed check; the report is always
// complete up to that point.
func Run(ctx context.Context, prov provider.Provider, typ provider.ProviderType, bucket, prefix string, mode Mode) (*Report, error) {
	rec := &Report{
		Provider: typ.String(),
		Bucket:   bucket,
		Prefix:   prefix,
		Mode:     mode,
		Results:  []Result{},
	}

	method := fmt.Sprintf("List(prefix=%q,maxKeys=1)", prefix)
	page, err := prov.List(ctx, provider.ListOptions{Prefix: prefix, MaxKeys: 1})
	if err != nil {
		rec.Results = append(rec.Results, failed(CapList, method, err))
		return rec, err
	}
	rec.Results = append(rec.Results, Result{Capability: CapList, Allowed: true, Method: method})

	if len(page.Objects) > 0 {
		if err := checkRead(ctx, prov, page.Objects[0].Key, rec); err != nil {
			return rec, err
		}
	}

	if mode == ModeReadWrite {
		if err := checkWrite(ctx, prov, typ, rec); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

func checkRead(ctx context.Context, prov provider.Provider, key string, rec *Report) error {
	getter, ok := prov.(provider.ObjectGetter)
	if !ok {
		return nil
	}
	method := fmt.Sprintf("GetObject(key=%q)", key)
	body, _, err := getter.GetObject(ctx, key)
	if err != nil {
		rec.Results = append(rec.Results, failed(CapRead, method, err))
		return err
	}
	_ = body.Close()
	rec.Results = append(rec.Results, Result{Capability: CapRead, Allowed: true, Method: method})
	return nil
}

func checkWrite(ctx context.Context, prov provider.Provider, typ provider.ProviderType, rec *Report) error {
	putter, okPut := prov.(provider.ObjectPutter)
	deleter, okDel := prov.(provider.ObjectDeleter)
	if !okPut || !okDel {
		err := &provider.ProviderError{Op: "Preflight", Provider: typ, Bucket: rec.Bucket, Err: provider.ErrNotSupported}
		rec.Results = append(rec.Results, failed(CapWrite, "PutObject", err))
		return err
	}

	key := path.Join(DefaultMarkerPrefix, strconv.FormatInt(time.Now().UnixNano(), 10))
	payload := []byte("preflight")

	method := fmt.Sprintf("PutObject(key=%q)", key)
	if err := putter.PutObject(ctx, key, bytes.NewReader(payload), int64(len(payload))); err != nil {
		rec.Results = append(rec.Results, failed(CapWrite, method, err))
		return err
	}
	rec.Results = append(rec.Results, Result{Capability: CapWrite, Allowed: true, Method: method})

	method = fmt.Sprintf("DeleteObject(key=%q)", key)
	if err := deleter.DeleteObject(ctx, key); err != nil {
		rec.Results = append(rec.Results, failed(CapDelete, method, err))
		return err
	}
	rec.Results = append(rec.Results, Result{Capability: CapDelete, Allowed: true, Method: method})
	return nil
}

func failed(capability, method string, err error) Result {
	return Result{
		Capability: capability,
		Allowed:    false,
		Method:     method,
		ErrorCode:  provider.Code(err),
		Detail:     err.Error(),
	}
}
