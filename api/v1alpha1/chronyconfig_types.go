/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1alpha1

// ============================================================================
// Configuration
// ============================================================================

// ChronyConfigSpec defines the desired state of chrony on one host.
type ChronyConfigSpec struct {
	// Sources is a comma-separated list of time source URLs, for example
	// "ntp://ntp.ubuntu.com?iburst=true,nts://time.cloudflare.com".
	// +optional
	Sources string `json:"sources,omitempty" yaml:"sources,omitempty"`

	// ServerName is the DNS name the host serves NTS under. It is the subject
	// of the self-managed certificate. Empty disables the self-managed
	// certificate and revokes an outstanding one.
	// +optional
	ServerName string `json:"server-name,omitempty" yaml:"server-name,omitempty"`

	// NTSCertificates references externally managed kubernetes.io/tls Secrets
	// as "namespace/name". They are served before the self-managed
	// certificate, in the listed order.
	// +optional
	NTSCertificates []string `json:"nts-certificates,omitempty" yaml:"nts-certificates,omitempty"`

	// CA configures the certificate authority integration.
	// +optional
	CA CASpec `json:"ca,omitzero" yaml:"ca,omitempty"`
}

// CASpec configures the certificate authority integration.
type CASpec struct {
	// Enabled makes the integration active. Certificate signing requests are
	// only sent while it is active.
	// +optional
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`

	// SignerName is the signer requested for issued certificates.
	// +optional
	SignerName string `json:"signer-name,omitempty" yaml:"signer-name,omitempty"`

	// Labels are added to every certificate signing request object.
	// +optional
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// ============================================================================
// Status
// ============================================================================

// Phase represents the operational state of the managed host.
type Phase string

const (
	// PhaseMaintenance is reported while the operator prepares the host.
	PhaseMaintenance Phase = "Maintenance"
	// PhaseWaiting is reported while an expected input has not arrived yet.
	PhaseWaiting Phase = "Waiting"
	// PhaseBlocked is reported when the configuration cannot be applied
	// without operator action.
	PhaseBlocked Phase = "Blocked"
	// PhaseActive is reported when chrony runs the desired configuration.
	PhaseActive Phase = "Active"
)

// Status messages shared by the operator and its status report.
const (
	MessageInstalling     = "installing chrony"
	MessageNoSource       = "no time source configured"
	MessageWaitingForCert = "waiting for certificate"
	MessageInvalidSource  = "invalid time source"
)

// ChronyStatus is the observed state of the managed host.
type ChronyStatus struct {
	// Phase is the operational state.
	Phase Phase `json:"phase" yaml:"phase"`

	// Message provides details about the current phase.
	// +optional
	Message string `json:"message,omitempty" yaml:"message,omitempty"`

	// Sources are the configured time sources in canonical URL form.
	// +optional
	Sources []string `json:"sources,omitempty" yaml:"sources,omitempty"`

	// Certificate is the self-managed certificate lifecycle state.
	Certificate CertificateStatus `json:"certificate" yaml:"certificate"`

	// StoredCertificates is the number of key pairs in the certificate store.
	StoredCertificates int `json:"stored-certificates" yaml:"stored-certificates"`
}

// CertificateStatus summarizes the keychain of the self-managed certificate.
type CertificateStatus struct {
	// ServerName is the subject the current request was issued for.
	// +optional
	ServerName string `json:"server-name,omitempty" yaml:"server-name,omitempty"`

	// HasPrivateKey reports whether the private key was created.
	HasPrivateKey bool `json:"has-private-key" yaml:"has-private-key"`

	// Request is the name of the outstanding certificate signing request.
	// +optional
	Request string `json:"request,omitempty" yaml:"request,omitempty"`

	// Issued reports whether a signed chain is held.
	Issued bool `json:"issued" yaml:"issued"`

	// NotAfter is the expiry of the held chain in RFC 3339.
	// +optional
	NotAfter string `json:"not-after,omitempty" yaml:"not-after,omitempty"`
}
