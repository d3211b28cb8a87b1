package temporal

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.temporal.io/sdk/client"
)

// Dial connects to the Temporal frontend with SDK logs routed through logrus.
func Dial(hostPort, namespace string) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  hostPort,
		Namespace: namespace,
		Logger:    newSDKLogger(log.StandardLogger()),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal %s: %w", hostPort, err)
	}
	return c, nil
}

// sdkLogger adapts logrus to the SDK's key-value logger.
type sdkLogger struct {
	entry *log.Entry
}

func newSDKLogger(l *log.Logger) *sdkLogger {
	return &sdkLogger{entry: log.NewEntry(l).WithField("component", "temporal-sdk")}
}

func (l *sdkLogger) with(keyvals []interface{}) *log.Entry {
	if len(keyvals) == 0 {
		return l.entry
	}
	fields := make(log.Fields, (len(keyvals)+1)/2)
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		if i+1 == len(keyvals) {
			fields[key] = "(missing)"
			break
		}
		fields[key] = keyvals[i+1]
	}
	return l.entry.WithFields(fields)
}

func (l *sdkLogger) Debug(msg string, keyvals ...interface{}) { l.with(keyvals).Debug(msg) }
func (l *sdkLogger) Info(msg string, keyvals ...interface{})  { l.with(keyvals).Info(msg) }
func (l *sdkLogger) Warn(msg string, keyvals ...interface{})  { l.with(keyvals).Warn(msg) }
func (l *sdkLogger) Error(msg string, keyvals ...interface{}) { l.with(keyvals).Error(msg) }
