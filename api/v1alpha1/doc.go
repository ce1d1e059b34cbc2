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

// Package v1alpha1 defines the configuration and status types of the chrony
// operator.
//
// # Configuration
//
// ChronyConfigSpec is the declarative intent for one host. It is read from a
// YAML file (and CHRONY_OPERATOR_* environment variables) by internal/config:
//
//	sources: ntp://ntp.ubuntu.com?iburst=true,nts://time.cloudflare.com
//	server-name: ntp.example.com
//	nts-certificates:
//	  - chrony/nts-external
//	ca:
//	  enabled: true
//	  signer-name: example.com/nts
//
// # Status
//
// ChronyStatus reports the operational Phase of the host together with the
// certificate lifecycle state held in the keychain and the certificate store.
//
// # Versioning
//
// This is the v1alpha1 version, indicating the configuration format is in
// early development and may change in backward-incompatible ways.
package v1alpha1
