package intake

// envelopeSchema describes the batch envelope. Record contents are decoded
// per source and are only required to be objects here.
const envelopeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "ThreatLens feed batch",
  "type": "object",
  "required": ["feeds"],
  "properties": {
    "now": {
      "type": ["string", "number"]
    },
    "feeds": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["source", "records"],
        "properties": {
          "source": {"type": "string", "minLength": 1},
          "records": {
            "type": "array",
            "items": {"type": "object"}
          }
        }
      }
    }
  }
}`
