/*
Package schema defines the payload model shared by every protocol the gateway
serves.

A Model is an ordered list of fields. Each field is a leaf type, a named nested
object, an array of either, or a relation to another named Model. The same
Model drives parameter validation, the OpenAPI document, tool input schemas and
GraphQL SDL.

# Model Definition

Models are written in YAML as ordered mappings:

	bodyParams:
	  email:   String!
	  tags:    "[String]"
	  age:     { type: Number, description: Age in years }
	  address:
	    type: Object
	    required: true
	    fields:
	      city: String!
	      zip:  String
	  owner:   { type: Relation, model: User }

The scalar shorthand accepts a type name, optionally wrapped in brackets for an
array and suffixed with "!" for a required field.

# Field Types

  - String:   Text value
  - Number:   Numeric value, coerced from strings on input
  - Boolean:  Boolean value, coerced from "true"/"false"
  - Date:     Time value, accepted as ISO-8601 or epoch milliseconds
  - ObjectId: Opaque identifier
  - JSON:     Free-form JSON value
  - Object:   Nested named Model (uses fields)
  - Relation: Reference to another named Model (uses model)

# Handlers

Routes are served by a Handler that receives a normalized RequestContext and
returns a Result or an error. Errors should carry a gRPC status code, see the
apperr package.
*/
package schema
