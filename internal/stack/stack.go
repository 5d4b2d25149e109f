// Package stack reads the serverless deployment descriptor so that the setup
// and verify tools agree with whatever the descriptor declares, instead of
// hardcoding resource names in two places.
//
// Only the fields this repo consumes are modeled; the rest of the descriptor
// belongs to the deployment tool and is left alone.
package stack

import (
	"fmt"
	"os"

	"github.com/ubuntu/decorate"
	"gopkg.in/yaml.v3"

	"github.com/feedpipe/feedpipe/internal/constants"
)

// Descriptor is the subset of the deployment descriptor consumed by this repo.
type Descriptor struct {
	Service   string              `yaml:"service"`
	Provider  Provider            `yaml:"provider"`
	Functions map[string]Function `yaml:"functions"`
	Custom    Custom              `yaml:"custom"`
}

// Provider holds the provider block of the descriptor.
type Provider struct {
	Name    string `yaml:"name"`
	Runtime string `yaml:"runtime"`
	Region  string `yaml:"region"`
	Stage   string `yaml:"stage"`
}

// Function holds a single function declaration.
type Function struct {
	Handler string `yaml:"handler"`
	Name    string `yaml:"name"`
}

// Custom holds the resource names the stack declares for the pipeline.
type Custom struct {
	BucketName string `yaml:"bucketName"`
	TableName  string `yaml:"tableName"`
	TopicName  string `yaml:"topicName"`
}

// Resources are the resolved resource names the pipeline is verified against.
type Resources struct {
	Bucket      string
	Table       string
	Topic       string
	APIFunction string
}

// Load parses the descriptor at path.
func Load(path string) (d *Descriptor, err error) {
	defer decorate.OnError(&err, "could not load deployment descriptor %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	d = &Descriptor{}
	if err := yaml.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("invalid YAML: %v", err)
	}

	return d, nil
}

// Stage returns the declared stage, or the default local stage.
func (d *Descriptor) Stage() string {
	if d == nil || d.Provider.Stage == "" {
		return constants.DefaultStage
	}
	return d.Provider.Stage
}

// FunctionName resolves the deployed name of the function declared under key.
// An explicit name wins; otherwise the deployment tool's
// <service>-<stage>-<key> convention applies. Falls back to the default API
// function name when the descriptor does not declare the key at all.
func (d *Descriptor) FunctionName(key string) string {
	if d == nil {
		return constants.DefaultAPIFunction
	}
	fn, ok := d.Functions[key]
	if !ok {
		return constants.DefaultAPIFunction
	}
	if fn.Name != "" {
		return fn.Name
	}
	return fmt.Sprintf("%s-%s-%s", d.Service, d.Stage(), key)
}

// Resources resolves the pipeline resource names, applying defaults for
// anything the descriptor leaves out. A nil receiver yields all defaults,
// which is the behavior when no descriptor file is present.
func (d *Descriptor) Resources() Resources {
	r := Resources{
		Bucket:      constants.DefaultBucket,
		Table:       constants.DefaultTable,
		Topic:       constants.DefaultTopic,
		APIFunction: d.FunctionName("api"),
	}
	if d == nil {
		return r
	}
	if d.Custom.BucketName != "" {
		r.Bucket = d.Custom.BucketName
	}
	if d.Custom.TableName != "" {
		r.Table = d.Custom.TableName
	}
	if d.Custom.TopicName != "" {
		r.Topic = d.Custom.TopicName
	}
	return r
}
