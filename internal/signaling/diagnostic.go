package signaling

import "log"

func logClientDiagnostic(connID, event, detail string) {
	log.Printf("signaling: client_diagnostic connection=%s event=%s detail=%q", connID, event, detail)
}
