package ca

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	certificatesv1 "k8s.io/api/certificates/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/numtide/chrony-operator/pkg/monitoring"
	"github.com/numtide/chrony-operator/pkg/util/metadata"
)

const (
	// DefaultSignerName is the signer requested when none is configured.
	DefaultSignerName = "chrony-operator.numtide.com/nts-server"
	// AnnotationPredecessor names the object a renewal replaces.
	AnnotationPredecessor = "chrony-operator.numtide.com/predecessor"

	objectNamePrefix = "chrony-nts-"
)

// Request kinds reported to monitoring.
const (
	KindCreation   = "creation"
	KindRenewal    = "renewal"
	KindRevocation = "revocation"
)

// Requester sends certificate requests to a certificate authority.
type Requester interface {
	RequestCreation(ctx context.Context, csr string) error
	RequestRenewal(ctx context.Context, oldCSR, newCSR string) error
	RequestRevocation(ctx context.Context, csr string) error
}

// ObjectName returns the CertificateSigningRequest name for a PEM encoded CSR.
func ObjectName(csr string) string {
	sum := sha256.Sum256([]byte(csr))
	return objectNamePrefix + hex.EncodeToString(sum[:])[:32]
}

// KubeRequester implements Requester with CertificateSigningRequest objects.
type KubeRequester struct {
	Client     client.Client
	SignerName string
	// Instance names the managed host in the object labels.
	Instance string
	// Labels are added to every object. Standard labels take precedence.
	Labels map[string]string
}

var _ Requester = (*KubeRequester)(nil)

func (r *KubeRequester) newObject(csr string) *certificatesv1.CertificateSigningRequest {
	signer := r.SignerName
	if signer == "" {
		signer = DefaultSignerName
	}
	return &certificatesv1.CertificateSigningRequest{
		ObjectMeta: metav1.ObjectMeta{
			Name: ObjectName(csr),
			Labels: metadata.MergeLabels(
				metadata.BuildStandardLabels(r.Instance, metadata.ComponentNTSServer),
				r.Labels,
			),
		},
		Spec: certificatesv1.CertificateSigningRequestSpec{
			Request:    []byte(csr),
			SignerName: signer,
			Usages: []certificatesv1.KeyUsage{
				certificatesv1.UsageDigitalSignature,
				certificatesv1.UsageServerAuth,
			},
		},
	}
}

// RequestCreation creates the object for csr. An existing object is kept.
func (r *KubeRequester) RequestCreation(ctx context.Context, csr string) error {
	ctx, span := monitoring.StartChildSpan(ctx, "CA.RequestCreation",
		monitoring.AttrRequest.String(ObjectName(csr)))
	defer span.End()

	if err := r.create(ctx, r.newObject(csr)); err != nil {
		monitoring.RecordSpanError(span, err)
		return err
	}
	monitoring.RecordCSRRequest(KindCreation)
	return nil
}

// RequestRenewal creates the object for newCSR annotated with its
// predecessor, then deletes the predecessor.
func (r *KubeRequester) RequestRenewal(ctx context.Context, oldCSR, newCSR string) error {
	ctx, span := monitoring.StartChildSpan(ctx, "CA.RequestRenewal",
		monitoring.AttrRequest.String(ObjectName(newCSR)))
	defer span.End()

	obj := r.newObject(newCSR)
	obj.Annotations = map[string]string{AnnotationPredecessor: ObjectName(oldCSR)}
	if err := r.create(ctx, obj); err != nil {
		monitoring.RecordSpanError(span, err)
		return err
	}
	if err := r.delete(ctx, oldCSR); err != nil {
		monitoring.RecordSpanError(span, err)
		return err
	}
	monitoring.RecordCSRRequest(KindRenewal)
	return nil
}

// RequestRevocation deletes the object for csr. A missing object is a no-op.
func (r *KubeRequester) RequestRevocation(ctx context.Context, csr string) error {
	ctx, span := monitoring.StartChildSpan(ctx, "CA.RequestRevocation",
		monitoring.AttrRequest.String(ObjectName(csr)))
	defer span.End()

	if err := r.delete(ctx, csr); err != nil {
		monitoring.RecordSpanError(span, err)
		return err
	}
	monitoring.RecordCSRRequest(KindRevocation)
	return nil
}

func (r *KubeRequester) create(ctx context.Context, obj *certificatesv1.CertificateSigningRequest) error {
	logger := log.FromContext(ctx)
	if err := r.Client.Create(ctx, obj); err != nil {
		if apierrors.IsAlreadyExists(err) {
			logger.V(1).Info("certificate signing request already exists", "name", obj.Name)
			return nil
		}
		return fmt.Errorf("failed to create certificate signing request %s: %w", obj.Name, err)
	}
	logger.Info("created certificate signing request", "name", obj.Name)
	return nil
}

func (r *KubeRequester) delete(ctx context.Context, csr string) error {
	obj := &certificatesv1.CertificateSigningRequest{
		ObjectMeta: metav1.ObjectMeta{Name: ObjectName(csr)},
	}
	if err := r.Client.Delete(ctx, obj); err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to delete certificate signing request %s: %w", obj.Name, err)
	}
	log.FromContext(ctx).Info("deleted certificate signing request", "name", obj.Name)
	return nil
}
