package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/denniswebb/iptpanel/internal/iptables"
	"github.com/denniswebb/iptpanel/internal/metrics"
	"github.com/denniswebb/iptpanel/internal/validation"
)

const maxBodyBytes = 64 * 1024

const (
	msgMissingParameters = "required parameters are missing"
	msgMissingRaw        = "rule and table are required"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageResponse{Message: msg})
}

func writeFailure(w http.ResponseWriter, msg string, err error) {
	writeJSON(w, http.StatusInternalServerError, MessageResponse{Message: msg, Error: errorDetail(err)})
}

// errorDetail returns the iptables diagnostic unchanged when err came from
// the executor, otherwise the error text.
func errorDetail(err error) string {
	var cmdErr *iptables.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Detail()
	}
	return err.Error()
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func (s *Server) commandContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.cfg.CommandTimeout)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	table := r.URL.Query().Get("table")
	if table == "" {
		table = iptables.TableFilter
	}
	chain := r.URL.Query().Get("chain")
	if chain == "" {
		chain = "INPUT"
	}

	ctx, cancel := s.commandContext(r)
	defer cancel()

	lines, err := s.rules.List(ctx, table, chain)
	if err != nil {
		s.metrics.ObserveCommand("list", metrics.ResultFailure)
		s.logger.ErrorContext(r.Context(), "listing failed",
			slog.String("table", table),
			slog.String("chain", chain),
			slog.Any("error", err),
		)
		if !iptables.IsSelectionError(err) {
			s.health.RecordListing(err)
		}
		writeFailure(w, "failed to fetch iptables rules", err)
		return
	}

	s.metrics.ObserveCommand("list", metrics.ResultSuccess)
	s.metrics.SetListedRules(len(lines))
	s.health.RecordListing(nil)
	writeJSON(w, http.StatusOK, ListResponse{Rules: lines})
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.rejectRequest(w, r, "add", err.Error())
		return
	}
	if req.Table == "" || req.Chain == "" || req.Action == "" {
		s.rejectRequest(w, r, "add", msgMissingParameters)
		return
	}
	if msg := validateAdd(req); msg != "" {
		s.rejectRequest(w, r, "add", msg)
		return
	}

	spec := iptables.AddSpec{
		Table:    req.Table,
		Chain:    req.Chain,
		Protocol: req.Protocol,
		SrcIP:    req.SrcIP,
		DestIP:   req.DestIP,
		SrcPort:  string(req.SrcPort),
		DestPort: string(req.DestPort),
		Action:   req.Action,
	}
	s.mutate(w, r, "add", "failed to add rule", func(ctx context.Context) (string, error) {
		line, err := s.rules.Add(ctx, spec)
		return "rule added: " + line, err
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req DeleteRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.rejectRequest(w, r, "delete", err.Error())
		return
	}
	if req.Table == "" || req.Chain == "" || req.Index == "" || req.Index == "0" {
		s.rejectRequest(w, r, "delete", msgMissingParameters)
		return
	}
	index, err := req.Index.Int()
	if err != nil || index < 1 {
		s.rejectRequest(w, r, "delete", fmt.Sprintf("invalid rule number %q", req.Index))
		return
	}

	spec := iptables.DeleteSpec{Table: req.Table, Chain: req.Chain, Index: index}
	s.mutate(w, r, "delete", "failed to delete rule", func(ctx context.Context) (string, error) {
		_, err := s.rules.Delete(ctx, spec)
		return fmt.Sprintf("rule %d deleted from %s (%s)", index, spec.Chain, spec.Table), err
	})
}

func (s *Server) handleAddRaw(w http.ResponseWriter, r *http.Request) {
	var req RawRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.rejectRequest(w, r, "add_raw", err.Error())
		return
	}
	if req.Rule == "" || req.Table == "" {
		s.rejectRequest(w, r, "add_raw", msgMissingRaw)
		return
	}

	spec := iptables.RawSpec{Table: req.Table, Rule: req.Rule}
	s.mutate(w, r, "add_raw", "failed to add manual rule", func(ctx context.Context) (string, error) {
		line, err := s.rules.AddRaw(ctx, spec)
		return "rule added: " + line, err
	})
}

// mutate runs op while holding the mutation slot and writes the response.
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, operation string, failure string, op func(ctx context.Context) (string, error)) {
	ctx, cancel := s.commandContext(r)
	defer cancel()

	if err := s.mutations.Acquire(ctx, 1); err != nil {
		s.metrics.ObserveCommand(operation, metrics.ResultFailure)
		writeFailure(w, failure, fmt.Errorf("waiting for previous command: %w", err))
		return
	}
	defer s.mutations.Release(1)

	msg, err := op(ctx)
	if err != nil {
		if errors.Is(err, iptables.ErrMissingParameter) {
			s.rejectRequest(w, r, operation, err.Error())
			return
		}
		s.metrics.ObserveCommand(operation, metrics.ResultFailure)
		s.logger.ErrorContext(r.Context(), "rule mutation failed",
			slog.String("operation", operation),
			slog.Any("error", err),
		)
		writeFailure(w, failure, err)
		return
	}

	s.metrics.ObserveCommand(operation, metrics.ResultSuccess)
	s.logger.InfoContext(r.Context(), "rule mutation applied",
		slog.String("operation", operation),
		slog.String("message", msg),
	)
	writeMessage(w, http.StatusOK, msg)
}

func (s *Server) rejectRequest(w http.ResponseWriter, r *http.Request, operation string, msg string) {
	s.metrics.ObserveCommand(operation, metrics.ResultInvalid)
	s.logger.WarnContext(r.Context(), "rejected request",
		slog.String("operation", operation),
		slog.String("reason", msg),
	)
	writeMessage(w, http.StatusBadRequest, msg)
}

// validateAdd returns the first validation message for req, or "".
func validateAdd(req AddRequest) string {
	switch {
	case !validation.ValidAddress(req.SrcIP):
		return "invalid source IP"
	case !validation.ValidAddress(req.DestIP):
		return "invalid destination IP"
	case !validation.ValidPort(string(req.SrcPort)):
		return "invalid source port"
	case !validation.ValidPort(string(req.DestPort)):
		return "invalid destination port"
	}
	return ""
}
