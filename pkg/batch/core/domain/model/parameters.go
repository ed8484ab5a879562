package model

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// RunTimestampKey is the parameter every builder adds so that re-submissions form new job instances.
const RunTimestampKey = "run.timestamp"

var (
	maskedKeysMu sync.RWMutex
	maskedKeys   = map[string]struct{}{}
)

// SetMaskedParameterKeys configures which parameter values String() hides.
func SetMaskedParameterKeys(keys []string) {
	maskedKeysMu.Lock()
	defer maskedKeysMu.Unlock()
	maskedKeys = make(map[string]struct{}, len(keys))
	for _, k := range keys {
		maskedKeys[k] = struct{}{}
	}
}

// JobParameters is an immutable mapping from parameter name to a typed value
// (string, int64, float64 or time.Time). Build one with JobParametersBuilder.
type JobParameters struct {
	params map[string]interface{}
}

// NewJobParameters creates empty JobParameters.
func NewJobParameters() JobParameters {
	return JobParameters{params: map[string]interface{}{}}
}

// Len returns the number of parameters.
func (jp JobParameters) Len() int {
	return len(jp.params)
}

// Keys returns the parameter names in sorted order.
func (jp JobParameters) Keys() []string {
	keys := make([]string, 0, len(jp.params))
	for k := range jp.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the raw value of a parameter.
func (jp JobParameters) Get(key string) (interface{}, bool) {
	v, ok := jp.params[key]
	return v, ok
}

// GetString returns a string parameter.
func (jp JobParameters) GetString(key string) (string, bool) {
	v, ok := jp.params[key].(string)
	return v, ok
}

// GetLong returns an integer parameter. Values that went through JSON arrive as float64.
func (jp JobParameters) GetLong(key string) (int64, bool) {
	switch v := jp.params[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		i, err := v.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(v, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// GetDouble returns a floating point parameter.
func (jp JobParameters) GetDouble(key string) (float64, bool) {
	switch v := jp.params[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// ToMap returns a copy of the parameters.
func (jp JobParameters) ToMap() map[string]interface{} {
	out := make(map[string]interface{}, len(jp.params))
	for k, v := range jp.params {
		out[k] = v
	}
	return out
}

// Equal compares two parameter sets by their canonical form.
func (jp JobParameters) Equal(other JobParameters) bool {
	a, errA := jp.canonicalJSON()
	b, errB := other.canonicalJSON()
	return errA == nil && errB == nil && a == b
}

// Hash returns the SHA-256 of the canonical JSON form. Together with the job name it is the
// job instance identity.
func (jp JobParameters) Hash() (string, error) {
	canonical, err := jp.canonicalJSON()
	if err != nil {
		return "", exception.NewBatchError("job_parameters", "failed to marshal JobParameters to canonical JSON for hash calculation", err, false, false)
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:]), nil
}

// normalized renders times as unix millis and integers as float64 so a parameter set
// compares and hashes the same before and after a JSON round trip.
func (jp JobParameters) normalized() map[string]interface{} {
	out := make(map[string]interface{}, len(jp.params))
	for k, v := range jp.params {
		switch t := v.(type) {
		case time.Time:
			out[k] = float64(t.UnixMilli())
		case int:
			out[k] = float64(t)
		case int64:
			out[k] = float64(t)
		default:
			out[k] = t
		}
	}
	return out
}

// canonicalJSON marshals the normalized parameters; encoding/json sorts map keys.
func (jp JobParameters) canonicalJSON() (string, error) {
	data, err := json.Marshal(jp.normalized())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// MarshalJSON implements json.Marshaler.
func (jp JobParameters) MarshalJSON() ([]byte, error) {
	return json.Marshal(jp.normalized())
}

// UnmarshalJSON implements json.Unmarshaler.
func (jp *JobParameters) UnmarshalJSON(data []byte) error {
	params := map[string]interface{}{}
	if err := json.Unmarshal(data, &params); err != nil {
		return err
	}
	jp.params = params
	return nil
}

// Value implements driver.Valuer, converting JobParameters to a JSON string.
func (jp JobParameters) Value() (driver.Value, error) {
	data, err := jp.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (jp *JobParameters) Scan(value interface{}) error {
	b, err := scanBytes(value, "JobParameters")
	if err != nil {
		return err
	}
	if len(b) == 0 {
		jp.params = map[string]interface{}{}
		return nil
	}
	if err := jp.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("failed to unmarshal JobParameters JSON: %w", err)
	}
	return nil
}

// String renders the parameters as JSON with masked keys hidden.
func (jp JobParameters) String() string {
	maskedKeysMu.RLock()
	out := make(map[string]interface{}, len(jp.params))
	for k, v := range jp.params {
		if _, masked := maskedKeys[k]; masked {
			out[k] = "********"
			continue
		}
		out[k] = v
	}
	maskedKeysMu.RUnlock()

	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf("{[ERROR: failed to marshal parameters: %v]}", err)
	}
	return string(data)
}

// JobParametersBuilder accumulates typed parameters.
type JobParametersBuilder struct {
	params map[string]interface{}
	now    func() time.Time
}

// NewJobParametersBuilder creates an empty builder that stamps RunTimestampKey from time.Now.
func NewJobParametersBuilder() *JobParametersBuilder {
	return &JobParametersBuilder{params: map[string]interface{}{}, now: time.Now}
}

// From seeds the builder with existing parameters.
func (b *JobParametersBuilder) From(jp JobParameters) *JobParametersBuilder {
	for k, v := range jp.params {
		b.params[k] = v
	}
	return b
}

// WithClock replaces the clock used for the uniqueness timestamp.
func (b *JobParametersBuilder) WithClock(now func() time.Time) *JobParametersBuilder {
	b.now = now
	return b
}

// AddString adds a string parameter.
func (b *JobParametersBuilder) AddString(key, value string) *JobParametersBuilder {
	b.params[key] = value
	return b
}

// AddLong adds an integer parameter.
func (b *JobParametersBuilder) AddLong(key string, value int64) *JobParametersBuilder {
	b.params[key] = value
	return b
}

// AddDouble adds a floating point parameter.
func (b *JobParametersBuilder) AddDouble(key string, value float64) *JobParametersBuilder {
	b.params[key] = value
	return b
}

// AddDate adds a time parameter.
func (b *JobParametersBuilder) AddDate(key string, value time.Time) *JobParametersBuilder {
	b.params[key] = value
	return b
}

// ToJobParameters returns the built parameters. RunTimestampKey is added unless already present.
func (b *JobParametersBuilder) ToJobParameters() JobParameters {
	out := make(map[string]interface{}, len(b.params)+1)
	for k, v := range b.params {
		out[k] = v
	}
	if _, ok := out[RunTimestampKey]; !ok {
		out[RunTimestampKey] = b.now().UnixMilli()
	}
	return JobParameters{params: out}
}
