package provider

import "testing"

func TestFormatAPIError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		debug  bool
		want   string
	}{
		{"capacity", 429, `{"error":{"message":"Service tier capacity exceeded for this model."}}`, false,
			"⚠️ Quota du modèle dépassé. Veuillez patienter quelques minutes ou utiliser un autre modèle."},
		{"rate limit snake", 429, `{"error":{"message":"rate_limit_exceeded"}}`, false,
			"⚠️ Trop de requêtes. Veuillez patienter quelques secondes avant de réessayer."},
		{"invalid key", 401, `{"error":{"message":"Invalid API key"}}`, false,
			"❌ Clé API invalide. Vérifiez votre configuration."},
		{"unknown model", 404, `{"error":{"message":"The model gpt-9 does not exist"}}`, false,
			"❌ Le modèle spécifié n'existe pas ou n'est pas accessible."},
		{"context length", 400, `{"error":{"message":"context_length_exceeded: too many tokens"}}`, false,
			"⚠️ Message trop long. Le contexte dépasse la limite du modèle."},
		{"passthrough", 400, `{"error":{"message":"bad temperature"}}`, false,
			"❌ bad temperature"},
		{"insufficient quota", 429, `{"error":{"message":"You exceeded your quota","type":"insufficient_quota"}}`, false,
			"❌ You exceeded your quota (Quota insuffisant)"},
		{"code in debug", 400, `{"error":{"message":"bad temperature","code":"invalid_value"}}`, true,
			"❌ bad temperature [Code: invalid_value]"},
		{"code hidden without debug", 400, `{"error":{"message":"bad temperature","code":"invalid_value"}}`, false,
			"❌ bad temperature"},
		{"mistral shape", 422, `{"object":"error","type":"invalid_request_error","message":"Input should be a valid list"}`, false,
			"❌ Input should be a valid list"},
		{"unparseable 503", 503, `Service Unavailable`, false,
			"Service API temporairement indisponible (HTTP 503)"},
		{"unknown status", 418, ``, false,
			"Erreur API (HTTP 418)"},
		{"json without message", 403, `{}`, false,
			"Accès refusé (HTTP 403)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatAPIError(tt.status, []byte(tt.body), tt.debug); got != tt.want {
				t.Errorf("formatAPIError() = %q, want %q", got, tt.want)
			}
		})
	}
}
