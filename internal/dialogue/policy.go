package dialogue

// Decision is the retry policy outcome for a failed slot attempt.
type Decision string

const (
	DecisionRetry    Decision = "retry"
	DecisionFallback Decision = "fallback"
	DecisionAbort    Decision = "abort"
)

// Decide is evaluated after a failed attempt has been counted. Below the
// limit the slot is asked again; at the limit the slot falls back to its
// default when one exists, otherwise the task aborts.
func Decide(retryCount, maxRetries int, hasFallback bool) Decision {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	if retryCount < maxRetries {
		return DecisionRetry
	}
	if hasFallback {
		return DecisionFallback
	}
	return DecisionAbort
}
