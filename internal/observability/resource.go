package observability

import (
	"os"
	"runtime"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// DefaultServiceName names the client in exported telemetry when config
// leaves it unset.
const DefaultServiceName = "authclient"

// instanceID distinguishes concurrent CLI invocations sharing a collector.
var instanceID = uuid.NewString()

// NewResource describes this client process. Empty version and environment
// are omitted rather than exported as blank attributes.
func NewResource(serviceName, version, environment string) *resource.Resource {
	if serviceName == "" {
		serviceName = DefaultServiceName
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceInstanceID(instanceID),
		semconv.ProcessPID(os.Getpid()),
		semconv.ProcessRuntimeName("go"),
		semconv.ProcessRuntimeVersion(runtime.Version()),
	}
	if version != "" {
		attrs = append(attrs, semconv.ServiceVersion(version))
	}
	if environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(environment))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}
