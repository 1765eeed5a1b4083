package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"autotrac/sync-client/internal/models"
	"autotrac/sync-client/internal/summary"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %02dm", h, m)
}

func formatAmount(amount float64) string {
	return summary.FormatMoney(amount)
}

func pendingSuffix(pending bool) string {
	if pending {
		return " (queued, will sync later)"
	}
	return ""
}

func printNotice(w io.Writer, notice string) {
	if notice != "" {
		fmt.Fprintln(w, "Note: "+notice)
	}
}

func pendingMark(pending bool) string {
	if pending {
		return "*"
	}
	return ""
}

func currencyOr(code, fallback string) string {
	if c := models.NormalizeCurrency(code); c != "" {
		return c
	}
	return fallback
}

func joinCodes(codes []string) string {
	if len(codes) == 0 {
		return "-"
	}
	return strings.Join(codes, ", ")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
