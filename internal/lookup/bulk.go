package lookup

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PureCypher/IPChecker-sub000/internal/intel"
	"github.com/PureCypher/IPChecker-sub000/internal/ipaddr"
)

// TooManyIPsError rejects a bulk request whose list exceeds the cap.
type TooManyIPsError struct {
	Count int
	Max   int
}

func (e *TooManyIPsError) Error() string {
	return fmt.Sprintf("Too many IPs: %d submitted, the limit is %d per request", e.Count, e.Max)
}

// InvalidIP describes one rejected entry of a bulk request.
type InvalidIP struct {
	IP    string `json:"ip"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// BulkValidationError fails a whole bulk request because at least one
// entry did not validate. No provider traffic happens in that case.
type BulkValidationError struct {
	Details []InvalidIP
}

func (e *BulkValidationError) Error() string {
	return fmt.Sprintf("Request contains %d invalid IP(s)", len(e.Details))
}

// BulkEntry is one per-IP outcome inside a bulk or CIDR response.
type BulkEntry struct {
	IP      string        `json:"ip"`
	Success bool          `json:"success"`
	Data    *intel.Record `json:"data,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// BulkSummary totals a batch. Skipped counts hosts that never reached
// the pipeline and is only set by CIDR expansion.
type BulkSummary struct {
	Total            int   `json:"total"`
	Successful       int   `json:"successful"`
	Failed           int   `json:"failed"`
	Skipped          int   `json:"skipped,omitempty"`
	ProcessingTimeMS int64 `json:"processingTimeMs"`
}

type BulkResponse struct {
	Results []BulkEntry `json:"results"`
	Summary BulkSummary `json:"summary"`
}

// CIDRBlock echoes the expanded network of a CIDR lookup.
type CIDRBlock struct {
	Input        string `json:"input"`
	Network      string `json:"network"`
	PrefixLength int    `json:"prefixLength"`
	TotalIPs     int    `json:"totalIps"`
}

type CIDRResponse struct {
	CIDR    CIDRBlock   `json:"cidr"`
	Results []BulkEntry `json:"results"`
	Summary BulkSummary `json:"summary"`
}

// LookupBulk runs the pipeline for up to BulkMaxIPs addresses. The
// whole list is validated before any provider traffic; hostname
// resolution is a single-lookup convenience, bulk entries must be
// literal IPs.
func (s *Service) LookupBulk(ctx context.Context, ips []string, opts Options) (*BulkResponse, error) {
	if len(ips) > s.cfg.BulkMaxIPs {
		return nil, &TooManyIPsError{Count: len(ips), Max: s.cfg.BulkMaxIPs}
	}

	normalized := make([]string, len(ips))
	var invalid []InvalidIP
	for i, raw := range ips {
		ip, derr := ipaddr.Normalize(raw)
		if derr != nil {
			invalid = append(invalid, InvalidIP{IP: raw, Code: derr.Code, Error: derr.Message})
			continue
		}
		normalized[i] = ip
	}
	if len(invalid) > 0 {
		return nil, &BulkValidationError{Details: invalid}
	}

	start := time.Now()
	entries := s.lookupEntries(ctx, normalized, opts)

	sum := BulkSummary{Total: len(entries), ProcessingTimeMS: time.Since(start).Milliseconds()}
	for _, e := range entries {
		if e.Success {
			sum.Successful++
		} else {
			sum.Failed++
		}
	}
	return &BulkResponse{Results: entries, Summary: sum}, nil
}

// LookupCIDR expands a network of at most CIDRMaxHosts addresses and
// runs the batch pipeline over it. Hosts that fail validation, such as
// addresses in reserved ranges, are carried as skipped failure entries
// instead of failing the expansion.
func (s *Service) LookupCIDR(ctx context.Context, cidr string, opts Options) (*CIDRResponse, error) {
	exp, derr := ipaddr.ExpandCIDR(cidr, s.cfg.CIDRMaxHosts)
	if derr != nil {
		return nil, derr
	}

	start := time.Now()

	results := make([]BulkEntry, len(exp.Hosts))
	valid := make([]string, 0, len(exp.Hosts))
	validIdx := make([]int, 0, len(exp.Hosts))
	skipped := 0
	for i, host := range exp.Hosts {
		ip, derr := ipaddr.Normalize(host)
		if derr != nil {
			results[i] = BulkEntry{IP: host, Error: derr.Message}
			skipped++
			continue
		}
		valid = append(valid, ip)
		validIdx = append(validIdx, i)
	}

	entries := s.lookupEntries(ctx, valid, opts)
	for j, e := range entries {
		results[validIdx[j]] = e
	}

	sum := BulkSummary{
		Total:            len(results),
		Skipped:          skipped,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	}
	for _, e := range entries {
		if e.Success {
			sum.Successful++
		} else {
			sum.Failed++
		}
	}

	return &CIDRResponse{
		CIDR: CIDRBlock{
			Input:        exp.Input,
			Network:      exp.Network,
			PrefixLength: exp.PrefixLength,
			TotalIPs:     len(exp.Hosts),
		},
		Results: results,
		Summary: sum,
	}, nil
}

// lookupEntries runs the pipeline for each address through a bounded
// number of workers. Per-IP failures are carried in the entries, the
// batch itself never fails.
func (s *Service) lookupEntries(ctx context.Context, ips []string, opts Options) []BulkEntry {
	entries := make([]BulkEntry, len(ips))
	var g errgroup.Group
	g.SetLimit(s.cfg.BulkConcurrency)
	for i, ip := range ips {
		g.Go(func() error {
			rec, err := s.lookupNormalized(ctx, ip, opts)
			if err != nil {
				entries[i] = BulkEntry{IP: ip, Error: err.Error()}
				return nil
			}
			entries[i] = BulkEntry{IP: ip, Success: true, Data: rec}
			return nil
		})
	}
	g.Wait()
	return entries
}
