package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// IdentityAPI is the subset of the STS client used to resolve the account
type IdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Identity is the account and partition of the running credentials
type Identity struct {
	Account   string
	Partition string
}

// CallerIdentity asks STS who the credentials belong to.
func CallerIdentity(ctx context.Context, client IdentityAPI) (Identity, error) {
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return Identity{}, fmt.Errorf("failed to get caller identity: %w", err)
	}
	arn := aws.ToString(out.Arn)
	parts := strings.SplitN(arn, ":", 3)
	if len(parts) < 3 || parts[0] != "arn" || parts[1] == "" {
		return Identity{}, fmt.Errorf("unexpected caller arn: %q", arn)
	}
	return Identity{Account: aws.ToString(out.Account), Partition: parts[1]}, nil
}

// FunctionARN is the ARN of a function named name in region.
func (id Identity) FunctionARN(region, name string) string {
	return fmt.Sprintf("arn:%s:lambda:%s:%s:function:%s", id.Partition, region, id.Account, name)
}
