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

// Package status computes the operational Phase of a host managed by the
// chrony operator.
//
// Missing configuration is an expected transient condition. It is reported as
// a Blocked or Waiting phase instead of an error.
package status

import (
	"k8s.io/utils/ptr"

	chronyv1alpha1 "github.com/numtide/chrony-operator/api/v1alpha1"
	"github.com/numtide/chrony-operator/pkg/cert"
)

// ComputePhase determines the phase of a host from the number of configured
// time sources and the certificate lifecycle state.
func ComputePhase(sources int, intent cert.Intent, state cert.State) (chronyv1alpha1.Phase, string) {
	if sources == 0 {
		return chronyv1alpha1.PhaseBlocked, chronyv1alpha1.MessageNoSource
	}
	if intent.ServerName != "" && intent.IntegrationActive &&
		state.CSR != nil && ptr.Deref(state.Chain, "") == "" {
		return chronyv1alpha1.PhaseWaiting, chronyv1alpha1.MessageWaitingForCert
	}
	return chronyv1alpha1.PhaseActive, ""
}

// InvalidSources returns the Blocked phase reported for a time source list
// that does not parse.
func InvalidSources(err error) (chronyv1alpha1.Phase, string) {
	return chronyv1alpha1.PhaseBlocked, chronyv1alpha1.MessageInvalidSource + ": " + err.Error()
}
