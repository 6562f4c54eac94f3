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

// Package awsbackend implements the Scheduler Backend capability (
// §4.7) against AWS EventBridge Scheduler: each schedule is a Schedule
// resource named flow-like-cron-{sanitized_event_id} targeting a Lambda that
// invokes the API.
package awsbackend

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsscheduler "github.com/aws/aws-sdk-go-v2/service/scheduler"
	"github.com/aws/aws-sdk-go-v2/service/scheduler/types"
	"github.com/aws/smithy-go"

	"github.com/flow-like/core/pkg/scheduler"
)

// Client is the subset of the AWS Scheduler SDK this backend depends on,
// narrowed so tests can substitute a fake.
type Client interface {
	CreateSchedule(ctx context.Context, in *awsscheduler.CreateScheduleInput, optFns ...func(*awsscheduler.Options)) (*awsscheduler.CreateScheduleOutput, error)
	GetSchedule(ctx context.Context, in *awsscheduler.GetScheduleInput, optFns ...func(*awsscheduler.Options)) (*awsscheduler.GetScheduleOutput, error)
	UpdateSchedule(ctx context.Context, in *awsscheduler.UpdateScheduleInput, optFns ...func(*awsscheduler.Options)) (*awsscheduler.UpdateScheduleOutput, error)
	DeleteSchedule(ctx context.Context, in *awsscheduler.DeleteScheduleInput, optFns ...func(*awsscheduler.Options)) (*awsscheduler.DeleteScheduleOutput, error)
	ListSchedules(ctx context.Context, in *awsscheduler.ListSchedulesInput, optFns ...func(*awsscheduler.Options)) (*awsscheduler.ListSchedulesOutput, error)
}

// Backend is the AWS EventBridge Scheduler variant.
type Backend struct {
	client    Client
	group     string
	targetArn string
	roleArn   string
}

// Config carries the environment-derived values names:
// EVENTBRIDGE_TARGET_ARN, EVENTBRIDGE_ROLE_ARN, plus the schedule group.
type Config struct {
	Group     string
	TargetArn string
	RoleArn   string
}

// New builds an AWS Scheduler backend over an already-configured client.
func New(client Client, cfg Config) *Backend {
	group := cfg.Group
	if group == "" {
		group = "default"
	}
	return &Backend{client: client, group: group, targetArn: cfg.TargetArn, roleArn: cfg.RoleArn}
}

func (b *Backend) CreateSchedule(ctx context.Context, eventID, cronExpr string, cfg scheduler.Config) error {
	name := scheduler.SanitizeName(eventID)
	normalized := fmt.Sprintf("cron(%s)", toAWSFields(scheduler.NormalizeCronForAWS(cronExpr)))

	_, err := b.client.CreateSchedule(ctx, &awsscheduler.CreateScheduleInput{
		Name:                     aws.String(name),
		GroupName:                aws.String(b.group),
		ScheduleExpression:       aws.String(normalized),
		ScheduleExpressionTimezone: timezoneOrNil(cfg.Timezone),
		FlexibleTimeWindow: &types.FlexibleTimeWindow{
			Mode: types.FlexibleTimeWindowModeOff,
		},
		Target: &types.Target{
			Arn:     aws.String(b.targetArn),
			RoleArn: aws.String(b.roleArn),
			Input:   aws.String(fmt.Sprintf(`{"event_id":%q}`, eventID)),
		},
	})
	if err != nil {
		return fmt.Errorf("awsbackend: create schedule %s: %w", name, err)
	}
	return nil
}

// UpdateSchedule is a read-modify-write that preserves target, role, and
// time-window, using a plain get-then-put with no optimistic lock: under
// concurrent admin writes the last write wins (see DESIGN.md).
func (b *Backend) UpdateSchedule(ctx context.Context, eventID, cronExpr string, cfg scheduler.Config) error {
	name := scheduler.SanitizeName(eventID)

	current, err := b.client.GetSchedule(ctx, &awsscheduler.GetScheduleInput{
		Name:      aws.String(name),
		GroupName: aws.String(b.group),
	})
	if err != nil {
		return fmt.Errorf("awsbackend: read schedule %s before update: %w", name, err)
	}

	normalized := fmt.Sprintf("cron(%s)", toAWSFields(scheduler.NormalizeCronForAWS(cronExpr)))
	_, err = b.client.UpdateSchedule(ctx, &awsscheduler.UpdateScheduleInput{
		Name:                       aws.String(name),
		GroupName:                  aws.String(b.group),
		ScheduleExpression:         aws.String(normalized),
		ScheduleExpressionTimezone: timezoneOrNil(cfg.Timezone),
		FlexibleTimeWindow:         current.FlexibleTimeWindow,
		Target:                     current.Target,
	})
	if err != nil {
		return fmt.Errorf("awsbackend: update schedule %s: %w", name, err)
	}
	return nil
}

// DeleteSchedule swallows ResourceNotFoundException so a repeated delete is a
// no-op.
func (b *Backend) DeleteSchedule(ctx context.Context, eventID string) error {
	name := scheduler.SanitizeName(eventID)
	_, err := b.client.DeleteSchedule(ctx, &awsscheduler.DeleteScheduleInput{
		Name:      aws.String(name),
		GroupName: aws.String(b.group),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("awsbackend: delete schedule %s: %w", name, err)
	}
	return nil
}

func (b *Backend) EnableSchedule(ctx context.Context, eventID string) error {
	return b.setState(ctx, eventID, types.ScheduleStateEnabled)
}

func (b *Backend) DisableSchedule(ctx context.Context, eventID string) error {
	return b.setState(ctx, eventID, types.ScheduleStateDisabled)
}

func (b *Backend) setState(ctx context.Context, eventID string, state types.ScheduleState) error {
	name := scheduler.SanitizeName(eventID)
	current, err := b.client.GetSchedule(ctx, &awsscheduler.GetScheduleInput{Name: aws.String(name), GroupName: aws.String(b.group)})
	if err != nil {
		return fmt.Errorf("awsbackend: read schedule %s: %w", name, err)
	}
	_, err = b.client.UpdateSchedule(ctx, &awsscheduler.UpdateScheduleInput{
		Name:                       aws.String(name),
		GroupName:                  aws.String(b.group),
		ScheduleExpression:         current.ScheduleExpression,
		ScheduleExpressionTimezone: current.ScheduleExpressionTimezone,
		FlexibleTimeWindow:         current.FlexibleTimeWindow,
		Target:                     current.Target,
		State:                      state,
	})
	if err != nil {
		return fmt.Errorf("awsbackend: set state for schedule %s: %w", name, err)
	}
	return nil
}

func (b *Backend) ScheduleExists(ctx context.Context, eventID string) (bool, error) {
	name := scheduler.SanitizeName(eventID)
	_, err := b.client.GetSchedule(ctx, &awsscheduler.GetScheduleInput{Name: aws.String(name), GroupName: aws.String(b.group)})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("awsbackend: check schedule %s: %w", name, err)
	}
	return true, nil
}

func (b *Backend) GetSchedule(ctx context.Context, eventID string) (*scheduler.Info, error) {
	name := scheduler.SanitizeName(eventID)
	out, err := b.client.GetSchedule(ctx, &awsscheduler.GetScheduleInput{Name: aws.String(name), GroupName: aws.String(b.group)})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("awsbackend: get schedule %s: %w", name, err)
	}
	return &scheduler.Info{
		EventID:        eventID,
		CronExpression: aws.ToString(out.ScheduleExpression),
		Active:         out.State == types.ScheduleStateEnabled,
	}, nil
}

func (b *Backend) ListSchedules(ctx context.Context, limit, offset int) ([]scheduler.Info, error) {
	out, err := b.client.ListSchedules(ctx, &awsscheduler.ListSchedulesInput{GroupName: aws.String(b.group)})
	if err != nil {
		return nil, fmt.Errorf("awsbackend: list schedules: %w", err)
	}
	infos := make([]scheduler.Info, 0, len(out.Schedules))
	for _, s := range out.Schedules {
		infos = append(infos, scheduler.Info{
			EventID: aws.ToString(s.Name),
			Active:  s.State == types.ScheduleStateEnabled,
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

func timezoneOrNil(tz string) *string {
	if tz == "" {
		return aws.String("UTC")
	}
	return aws.String(tz)
}

// toAWSFields returns the already-normalized 6-field expression unchanged;
// the callers add the cron(...) wrapping around it.
func toAWSFields(normalized string) string {
	return normalized
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ResourceNotFoundException"
	}
	return false
}

var _ scheduler.Backend = (*Backend)(nil)
