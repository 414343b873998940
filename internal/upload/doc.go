// Package upload is the Upload Session Coordinator (C6). It is the only
// layer that knows about fingerprint-based resume and the expiry reaper;
// everything else is delegation to the Session Store (C1) and whichever
// driver the registry (C3) resolves for the session's storage_config.
package upload
