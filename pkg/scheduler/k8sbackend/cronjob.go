// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package k8sbackend implements the Scheduler Backend capability (
// §4.7) against Kubernetes CronJobs: each schedule is a batch/v1 CronJob in a
// configured namespace, mounting the API base URL from a ConfigMap and the
// trigger JWT from a Secret.
package k8sbackend

import (
	"context"
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/flow-like/core/pkg/scheduler"
)

const (
	successfulJobsHistoryLimit int32 = 3
	backoffLimit               int32 = 2
	ttlSecondsAfterFinished    int32 = 86400
)

const defaultConfigMapName = "flow-like-sink-trigger-config"

// Backend is the Kubernetes CronJob scheduler variant.
type Backend struct {
	client        kubernetes.Interface
	namespace     string
	image         string
	apiBaseURL    string
	configMapName string
	secretName    string
}

// Config carries the environment-derived values names:
// K8S_NAMESPACE, SINK_TRIGGER_IMAGE, API_BASE_URL.
type Config struct {
	Namespace  string
	Image      string
	APIBaseURL string
	SecretName string
	// ConfigMapName holds the ConfigMap mounted for API_BASE_URL, keyed
	// "api_base_url". Defaults to "flow-like-sink-trigger-config".
	// CreateSchedule creates the ConfigMap, or updates it with APIBaseURL if
	// it already exists.
	ConfigMapName string
}

// New builds a Kubernetes CronJob backend over an already-configured client.
func New(client kubernetes.Interface, cfg Config) *Backend {
	configMapName := cfg.ConfigMapName
	if configMapName == "" {
		configMapName = defaultConfigMapName
	}
	return &Backend{
		client:        client,
		namespace:     cfg.Namespace,
		image:         cfg.Image,
		apiBaseURL:    cfg.APIBaseURL,
		configMapName: configMapName,
		secretName:    cfg.SecretName,
	}
}

// ensureConfigMap upserts the ConfigMap the CronJob pods read API_BASE_URL
// from, so a running backend's configured URL is always what new/updated
// schedules mount, without requiring a cluster operator to hand-maintain it.
func (b *Backend) ensureConfigMap(ctx context.Context) error {
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: b.configMapName, Namespace: b.namespace},
		Data:       map[string]string{"api_base_url": b.apiBaseURL},
	}
	_, err := b.client.CoreV1().ConfigMaps(b.namespace).Create(ctx, cm, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		_, err = b.client.CoreV1().ConfigMaps(b.namespace).Update(ctx, cm, metav1.UpdateOptions{})
	}
	if err != nil {
		return fmt.Errorf("k8sbackend: ensure configmap %s: %w", b.configMapName, err)
	}
	return nil
}

func (b *Backend) CreateSchedule(ctx context.Context, eventID, cronExpr string, cfg scheduler.Config) error {
	if err := b.ensureConfigMap(ctx); err != nil {
		return err
	}
	name := scheduler.SanitizeName(eventID)
	job := b.buildCronJob(name, eventID, cronExpr, false)
	_, err := b.client.BatchV1().CronJobs(b.namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("k8sbackend: create cronjob %s: %w", name, err)
	}
	return nil
}

func (b *Backend) UpdateSchedule(ctx context.Context, eventID, cronExpr string, cfg scheduler.Config) error {
	name := scheduler.SanitizeName(eventID)
	existing, err := b.client.BatchV1().CronJobs(b.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("k8sbackend: read cronjob %s before update: %w", name, err)
	}
	existing.Spec.Schedule = cronExpr
	_, err = b.client.BatchV1().CronJobs(b.namespace).Update(ctx, existing, metav1.UpdateOptions{})
	if err != nil {
		return fmt.Errorf("k8sbackend: update cronjob %s: %w", name, err)
	}
	return nil
}

func (b *Backend) DeleteSchedule(ctx context.Context, eventID string) error {
	name := scheduler.SanitizeName(eventID)
	err := b.client.BatchV1().CronJobs(b.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("k8sbackend: delete cronjob %s: %w", name, err)
	}
	return nil
}

func (b *Backend) EnableSchedule(ctx context.Context, eventID string) error {
	return b.setSuspend(ctx, eventID, false)
}

func (b *Backend) DisableSchedule(ctx context.Context, eventID string) error {
	return b.setSuspend(ctx, eventID, true)
}

func (b *Backend) setSuspend(ctx context.Context, eventID string, suspend bool) error {
	name := scheduler.SanitizeName(eventID)
	existing, err := b.client.BatchV1().CronJobs(b.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("k8sbackend: read cronjob %s: %w", name, err)
	}
	existing.Spec.Suspend = &suspend
	_, err = b.client.BatchV1().CronJobs(b.namespace).Update(ctx, existing, metav1.UpdateOptions{})
	if err != nil {
		return fmt.Errorf("k8sbackend: set suspend on cronjob %s: %w", name, err)
	}
	return nil
}

func (b *Backend) ScheduleExists(ctx context.Context, eventID string) (bool, error) {
	name := scheduler.SanitizeName(eventID)
	_, err := b.client.BatchV1().CronJobs(b.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("k8sbackend: check cronjob %s: %w", name, err)
	}
	return true, nil
}

func (b *Backend) GetSchedule(ctx context.Context, eventID string) (*scheduler.Info, error) {
	name := scheduler.SanitizeName(eventID)
	cj, err := b.client.BatchV1().CronJobs(b.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("k8sbackend: get cronjob %s: %w", name, err)
	}
	suspended := cj.Spec.Suspend != nil && *cj.Spec.Suspend
	return &scheduler.Info{
		EventID:        eventID,
		CronExpression: cj.Spec.Schedule,
		Active:         !suspended,
	}, nil
}

func (b *Backend) ListSchedules(ctx context.Context, limit, offset int) ([]scheduler.Info, error) {
	list, err := b.client.BatchV1().CronJobs(b.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("k8sbackend: list cronjobs: %w", err)
	}
	infos := make([]scheduler.Info, 0, len(list.Items))
	for _, cj := range list.Items {
		suspended := cj.Spec.Suspend != nil && *cj.Spec.Suspend
		infos = append(infos, scheduler.Info{
			EventID:        cj.Name,
			CronExpression: cj.Spec.Schedule,
			Active:         !suspended,
		})
	}
	if offset >= len(infos) {
		return []scheduler.Info{}, nil
	}
	end := len(infos)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return infos[offset:end], nil
}

// buildCronJob constructs the batch/v1 CronJob names:
// concurrencyPolicy Forbid, successfulJobsHistoryLimit 3, backoffLimit 2,
// ttlSecondsAfterFinished 86400, API-base-URL from a ConfigMap and the
// trigger JWT from a Secret.
func (b *Backend) buildCronJob(name, eventID, cronExpr string, suspend bool) *batchv1.CronJob {
	return &batchv1.CronJob{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: b.namespace,
			Labels:    map[string]string{"app": "flow-like-sink-trigger", "event-id-hash": name},
		},
		Spec: batchv1.CronJobSpec{
			Schedule:                   cronExpr,
			ConcurrencyPolicy:          batchv1.ForbidConcurrent,
			SuccessfulJobsHistoryLimit: int32Ptr(successfulJobsHistoryLimit),
			Suspend:                    &suspend,
			JobTemplate: batchv1.JobTemplateSpec{
				Spec: batchv1.JobSpec{
					BackoffLimit:            int32Ptr(backoffLimit),
					TTLSecondsAfterFinished: int32Ptr(ttlSecondsAfterFinished),
					Template: corev1.PodTemplateSpec{
						Spec: corev1.PodSpec{
							RestartPolicy: corev1.RestartPolicyNever,
							Containers: []corev1.Container{
								{
									Name:  "sink-trigger",
									Image: b.image,
									Env: []corev1.EnvVar{
										{Name: "EVENT_ID", Value: eventID},
										{
											Name: "API_BASE_URL",
											ValueFrom: &corev1.EnvVarSource{
												ConfigMapKeyRef: &corev1.ConfigMapKeySelector{
													LocalObjectReference: corev1.LocalObjectReference{Name: b.configMapName},
													Key:                  "api_base_url",
												},
											},
										},
										{
											Name: "TRIGGER_JWT",
											ValueFrom: &corev1.EnvVarSource{
												SecretKeyRef: &corev1.SecretKeySelector{
													LocalObjectReference: corev1.LocalObjectReference{Name: b.secretName},
													Key:                  "trigger-jwt",
												},
											},
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}
}

func int32Ptr(v int32) *int32 { return &v }

var _ scheduler.Backend = (*Backend)(nil)
