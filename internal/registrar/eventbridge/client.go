// Package eventbridge registers one-shot schedules with Amazon EventBridge
// Scheduler.
package eventbridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	"github.com/aws/aws-sdk-go-v2/service/scheduler/types"

	"github.com/yejikwon7/multi-agent/internal/registrar"
)

// API is the subset of the EventBridge Scheduler client used here.
type API interface {
	CreateSchedule(ctx context.Context, params *scheduler.CreateScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.CreateScheduleOutput, error)
}

type Client struct {
	api API
}

// New loads the default AWS credential chain for region.
func New(ctx context.Context, region string) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithAPI(scheduler.NewFromConfig(cfg)), nil
}

func NewWithAPI(api API) *Client {
	return &Client{api: api}
}

// CreateSchedule creates an enabled schedule with no flexible window and
// returns its ARN.
func (c *Client) CreateSchedule(ctx context.Context, reg registrar.Registration) (string, error) {
	if reg.Name == "" {
		return "", errors.New("schedule name is required")
	}

	state := types.ScheduleState(reg.State)
	if state == "" {
		state = types.ScheduleStateEnabled
	}

	out, err := c.api.CreateSchedule(ctx, &scheduler.CreateScheduleInput{
		Name:               aws.String(reg.Name),
		GroupName:          aws.String(reg.Group),
		ScheduleExpression: aws.String(reg.RunAtExpression),
		FlexibleTimeWindow: &types.FlexibleTimeWindow{
			Mode: types.FlexibleTimeWindowModeOff,
		},
		Target: &types.Target{
			Arn:     aws.String(reg.TargetIdentity),
			RoleArn: aws.String(reg.RoleIdentity),
			Input:   aws.String(reg.Input),
		},
		Description: aws.String(reg.Description),
		State:       state,
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.ScheduleArn), nil
}

var _ registrar.Client = (*Client)(nil)
