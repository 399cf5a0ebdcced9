package tokenstore

// AuthError wraps a credential-loading or refresh failure, implementing
// retry.RetryableError with a permanent classification: spec.md §7 marks
// the "auth or token" kind non-retryable, since retrying a refresh with
// the same bad or expired credential cannot succeed by itself — it needs
// a fresh login, not another attempt.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return "tokenstore: " + e.Op + ": " + e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Retryable implements retry.RetryableError.
func (e *AuthError) Retryable() bool {
	return false
}

func authErr(op string, err error) error {
	if err == nil {
		return nil
	}

	return &AuthError{Op: op, Err: err}
}
