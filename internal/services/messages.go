package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/fractalworks/jobsentry/internal/models"
)

// Notification categories feed the dedup fingerprint, so two alerts about
// different jobs never suppress each other.
const (
	CategoryStartup  = "startup"
	CategoryTest     = "test"
	CategoryCritical = "critical"
	CategoryDaily    = "daily-report"
)

// CategoryJobFailure returns the per-job failure category.
func CategoryJobFailure(jobName string) string {
	return "job-failure:" + jobName
}

// BuildStartupMessage announces a service boot.
func BuildStartupMessage(version string) string {
	msg := "🚀 **jobsentry started**"
	if version != "" {
		msg += fmt.Sprintf("\nVersion: %s", version)
	}
	return msg
}

// BuildTestMessage is the payload of the hardened-pipeline test
// endpoint. The text is stable so repeated test sends inside the dedup
// window exercise the suppression path.
func BuildTestMessage() string {
	return "🧪 **Test notification**\nHardened pipeline check"
}

// BuildJobFailedAlert describes a terminal FAILURE or TIMEOUT run.
func BuildJobFailedAlert(exec *models.JobExecution) string {
	emoji := "❌"
	label := "failed"
	if exec.Status == models.ExecStatusTimeout {
		emoji = "⏱️"
		label = "timed out"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s **Job %s**\n\n", emoji, label)
	fmt.Fprintf(&b, "**Job**: %s\n", exec.JobName)
	fmt.Fprintf(&b, "**Execution**: %s\n", exec.ExecutionID)
	fmt.Fprintf(&b, "**Retries used**: %d\n", exec.RetryCount)
	if exec.Error != "" {
		errMsg := exec.Error
		if len(errMsg) > 200 {
			errMsg = errMsg[:200] + "..."
		}
		fmt.Fprintf(&b, "**Error**: %s\n", errMsg)
	}
	fmt.Fprintf(&b, "**Started**: %s", exec.StartedAt.UTC().Format(time.RFC3339))
	return b.String()
}

// BuildJobSuccessReport summarizes a completed daily run.
func BuildJobSuccessReport(exec *models.JobExecution, symbol string) string {
	var b strings.Builder
	b.WriteString("✅ **Daily run completed**\n\n")
	fmt.Fprintf(&b, "**Job**: %s\n", exec.JobName)
	if symbol != "" {
		fmt.Fprintf(&b, "**Symbol**: %s\n", symbol)
	}
	if exec.RetryCount > 0 {
		fmt.Fprintf(&b, "**Retries**: %d\n", exec.RetryCount)
	}
	if exec.FinishedAt != nil {
		fmt.Fprintf(&b, "**Duration**: %s\n", exec.FinishedAt.Sub(exec.StartedAt).Round(time.Second))
	}
	fmt.Fprintf(&b, "**Date**: %s", exec.RunDate)
	return b.String()
}

// BuildCriticalAlert flags a condition that needs an operator now.
func BuildCriticalAlert(subject, detail string) string {
	msg := fmt.Sprintf("🚨 **CRITICAL**: %s", subject)
	if detail != "" {
		msg += "\n\n" + detail
	}
	return msg
}
