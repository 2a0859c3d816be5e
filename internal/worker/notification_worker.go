package worker

import (
	"github.com/campus-care/counseling-service/internal/events"
	"github.com/campus-care/counseling-service/internal/service"
)

// StartNotificationWorker registers notification handlers.
func StartNotificationWorker(notificationService *service.NotificationService) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
}

// StartEventExport forwards every domain event to the Kafka sink. A nil
// sink means export is disabled.
func StartEventExport(sink *events.KafkaSink, dispatcher events.Dispatcher) {
	if sink == nil || dispatcher == nil {
		return
	}
	sink.Attach(dispatcher)
}
