package domain

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"time"

	apperrors "github.com/marketplace/reviewcore/pkg/errors"
)

// VerificationType names the way a reviewer proved they use the product.
type VerificationType string

const (
	VerificationNone         VerificationType = "none"
	VerificationCompanyEmail VerificationType = "company_email"
	VerificationLinkedIn     VerificationType = "linkedin"
	VerificationVendorInvite VerificationType = "vendor_invite"
	VerificationScreenshot   VerificationType = "screenshot"
)

// Proof is the type-specific payload of a Verification. It is implemented
// only by the proof types in this package.
type Proof interface {
	Type() VerificationType
	validate() error
}

// CompanyEmailProof verifies a reviewer through a work address.
type CompanyEmailProof struct {
	Email  string `json:"email"`
	Domain string `json:"domain"`
}

// LinkedInProof verifies a reviewer through a public profile.
type LinkedInProof struct {
	ProfileURL string `json:"profile_url"`
	Headline   string `json:"headline,omitempty"`
}

// VendorInviteProof verifies a reviewer invited by the product's vendor.
type VendorInviteProof struct {
	InviteCode string `json:"invite_code"`
	VendorID   string `json:"vendor_id"`
}

// ScreenshotProof verifies a reviewer through an uploaded screenshot of the
// product in use.
type ScreenshotProof struct {
	FileURL string `json:"file_url"`
}

func (CompanyEmailProof) Type() VerificationType { return VerificationCompanyEmail }
func (LinkedInProof) Type() VerificationType     { return VerificationLinkedIn }
func (VendorInviteProof) Type() VerificationType { return VerificationVendorInvite }
func (ScreenshotProof) Type() VerificationType   { return VerificationScreenshot }

func (p CompanyEmailProof) validate() error {
	if _, err := mail.ParseAddress(p.Email); err != nil {
		return apperrors.Validation("verification.email must be a valid address")
	}
	return nil
}

func (p LinkedInProof) validate() error {
	if p.ProfileURL == "" {
		return apperrors.Validation("verification.profile_url is required")
	}
	return nil
}

func (p VendorInviteProof) validate() error {
	if p.InviteCode == "" {
		return apperrors.Validation("verification.invite_code is required")
	}
	return nil
}

func (p ScreenshotProof) validate() error {
	if p.FileURL == "" {
		return apperrors.Validation("verification.file_url is required")
	}
	return nil
}

// Verification is the tagged verification record of a review. A nil Proof
// means the review is unverified.
type Verification struct {
	Proof      Proof
	VerifiedAt *time.Time
}

// Type returns the verification type, VerificationNone when there is no proof.
func (v Verification) Type() VerificationType {
	if v.Proof == nil {
		return VerificationNone
	}
	return v.Proof.Type()
}

// Validate checks the proof payload.
func (v Verification) Validate() error {
	if v.Proof == nil {
		if v.VerifiedAt != nil {
			return apperrors.Validation("verification.verified_at requires a verification type")
		}
		return nil
	}
	return v.Proof.validate()
}

type verificationJSON struct {
	Type       VerificationType `json:"type"`
	Data       json.RawMessage  `json:"data,omitempty"`
	VerifiedAt *time.Time       `json:"verified_at,omitempty"`
}

// MarshalJSON encodes v as {"type": ..., "data": {...}, "verified_at": ...}.
func (v Verification) MarshalJSON() ([]byte, error) {
	out := verificationJSON{Type: v.Type(), VerifiedAt: v.VerifiedAt}
	if v.Proof != nil {
		data, err := json.Marshal(v.Proof)
		if err != nil {
			return nil, err
		}
		out.Data = data
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the tagged form written by MarshalJSON. An empty type
// decodes as unverified.
func (v *Verification) UnmarshalJSON(b []byte) error {
	var in verificationJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	var (
		proof Proof
		err   error
	)
	switch in.Type {
	case "", VerificationNone:
	case VerificationCompanyEmail:
		proof, err = decodeProof[CompanyEmailProof](in.Data)
	case VerificationLinkedIn:
		proof, err = decodeProof[LinkedInProof](in.Data)
	case VerificationVendorInvite:
		proof, err = decodeProof[VendorInviteProof](in.Data)
	case VerificationScreenshot:
		proof, err = decodeProof[ScreenshotProof](in.Data)
	default:
		return fmt.Errorf("unknown verification type %q", in.Type)
	}
	if err != nil {
		return fmt.Errorf("decode %s verification: %w", in.Type, err)
	}

	v.Proof = proof
	v.VerifiedAt = in.VerifiedAt
	return nil
}

func decodeProof[T Proof](data json.RawMessage) (Proof, error) {
	var p T
	if len(data) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return p, nil
}
