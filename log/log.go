package log

import (
	"fmt"

	"k8s.io/klog/v2"
)

var (
	NewContext  = klog.NewContext
	FromContext = klog.FromContext
)

func init() {
	klog.EnableContextualLogging(true)
}

var (
	Info  = DefaultLogger.Info
	Error = DefaultLogger.Error
	V     = DefaultLogger.V
	Warn  = DefaultLogger.V(1)
	Debug = DefaultLogger.V(2)
	Trace = DefaultLogger.V(3)
)

var DefaultLogger = klog.Background()

type Logger = klog.Logger

// Ref formats a distributed reference's (owner,id) identity for structured
// log fields, e.g. log.Info("dropped", "ref", log.Ref(owner, id)).
func Ref(owner, id any) klog.ObjectRef {
	return klog.KRef(fmt.Sprint(owner), fmt.Sprint(id))
}
