package domain

import "time"

// TwoFactorRecord is the stored second-factor state of a principal.
type TwoFactorRecord struct {
	UserID             string
	Secret             *string
	Enabled            bool
	RecoveryCodeHashes []string
	UpdatedAt          time.Time
}

// TwoFactorSetup is returned exactly once, when a secret is generated.
type TwoFactorSetup struct {
	Secret        string   `json:"secret"`
	OTPAuthURL    string   `json:"otpauth_url"`
	RecoveryCodes []string `json:"recovery_codes"`
}

type VerifyTwoFactorRequest struct {
	Token  string `json:"token"`
	Secret string `json:"secret"`
}

type DisableTwoFactorRequest struct {
	Token string `json:"token"`
}

type TwoFactorStatus struct {
	Enabled bool `json:"enabled"`
}
