// Package cloudtags fires cloud-provider tagging hooks on database role
// change, ported from original_source/helpers/aws.py's AWSConnection onto
// the AWS SDK v2 instead of boto and IMDSv1.
package cloudtags

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"governor/dbadapter"
)

const (
	imdsTokenURL    = "http://169.254.169.254/latest/api/token"
	imdsInstanceID  = "http://169.254.169.254/latest/meta-data/instance-id"
	imdsAZ          = "http://169.254.169.254/latest/meta-data/placement/availability-zone"
	imdsRequestTime = 2 * time.Second
)

// Tagger tags the local EC2 instance and its attached EBS volumes with the
// current database role whenever it changes.
type Tagger struct {
	client     *ec2.Client
	instanceID string
	enabled    bool
}

// NewTagger detects whether the process is running on EC2 (via IMDSv2) and,
// if so, builds a Tagger. If metadata is unreachable, it returns a disabled
// Tagger whose OnRoleChange is a no-op — matching the source's graceful
// fallback when not running on AWS.
func NewTagger(ctx context.Context) *Tagger {
	instanceID, err := fetchMetadata(imdsInstanceID)
	if err != nil {
		log.Printf("cloudtags: not running on EC2, tagging disabled: %v", err)
		return &Tagger{enabled: false}
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		log.Printf("cloudtags: could not load AWS config, tagging disabled: %v", err)
		return &Tagger{enabled: false}
	}

	return &Tagger{
		client:     ec2.NewFromConfig(cfg),
		instanceID: instanceID,
		enabled:    true,
	}
}

// OnRoleChange tags the instance and its volumes with role, matching
// AWSConnection.on_role_change.
func (t *Tagger) OnRoleChange(role dbadapter.Role) {
	if !t.enabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := t.tagEC2(ctx, role); err != nil {
		log.Printf("cloudtags: failed to tag EC2 instance: %v", err)
	}
	if err := t.tagEBS(ctx, role); err != nil {
		log.Printf("cloudtags: failed to tag EBS volumes: %v", err)
	}
}

func (t *Tagger) tagEC2(ctx context.Context, role dbadapter.Role) error {
	_, err := t.client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{t.instanceID},
		Tags: []types.Tag{
			{Key: aws.String("Role"), Value: aws.String(string(role))},
		},
	})
	return err
}

func (t *Tagger) tagEBS(ctx context.Context, role dbadapter.Role) error {
	out, err := t.client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{
		Filters: []types.Filter{
			{Name: aws.String("attachment.instance-id"), Values: []string{t.instanceID}},
		},
	})
	if err != nil {
		return err
	}

	volumeIDs := make([]string, 0, len(out.Volumes))
	for _, v := range out.Volumes {
		volumeIDs = append(volumeIDs, aws.ToString(v.VolumeId))
	}
	if len(volumeIDs) == 0 {
		return nil
	}

	_, err = t.client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: volumeIDs,
		Tags: []types.Tag{
			{Key: aws.String("Role"), Value: aws.String(string(role))},
		},
	})
	return err
}

// fetchMetadata retrieves one IMDSv2 metadata value using a short-lived
// session token.
func fetchMetadata(url string) (string, error) {
	client := &http.Client{Timeout: imdsRequestTime}

	tokenReq, _ := http.NewRequest(http.MethodPut, imdsTokenURL, nil)
	tokenReq.Header.Set("X-aws-ec2-metadata-token-ttl-seconds", "21600")
	tokenResp, err := client.Do(tokenReq)
	if err != nil {
		return "", fmt.Errorf("imds token request: %w", err)
	}
	defer tokenResp.Body.Close()
	tokenBytes, err := io.ReadAll(tokenResp.Body)
	if err != nil {
		return "", fmt.Errorf("imds token read: %w", err)
	}

	req, _ := http.NewRequest(http.MethodGet, url, nil)
	req.Header.Set("X-aws-ec2-metadata-token", string(tokenBytes))
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("imds metadata request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("imds metadata status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
