package worker

import "time"

func SetSender(w *WebhookWorker, send Sender) { w.send = send }

func SetClock(w *WebhookWorker, now func() time.Time) { w.now = now }
