// Every response uses the same envelope:
//
//	{"status": "success", "message": "...", "data": {...}}
//	{"status": "failed", "message": "...", "data": null, "errors": {"name": ["..."]}}
//
// List endpoints add "paginate": {"total", "current_page", "limit"}.
package httputil
