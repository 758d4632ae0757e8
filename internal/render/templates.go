package render

import "html/template"

var formTemplate = template.Must(template.New("form").Parse(`
{{- define "input" -}}
<input type="{{.Type}}" id="{{.ID}}" name="{{.Name}}" class="form-builder-input" autocomplete="{{.Autocomplete}}"{{if .Required}} required{{end}}{{if .Placeholder}} placeholder="{{.Placeholder}}"{{end}} />
{{- end -}}

{{- define "textarea" -}}
<textarea id="{{.ID}}" name="{{.Name}}" class="form-builder-textarea"{{if .Required}} required{{end}}{{if .Placeholder}} placeholder="{{.Placeholder}}"{{end}}></textarea>
{{- end -}}

{{- define "select" -}}
<select id="{{.ID}}" name="{{.Name}}" class="form-builder-select"{{if .Required}} required{{end}}>
<option value="">Select...</option>
{{- range .Options}}
<option value="{{.}}">{{.}}</option>
{{- end}}
</select>
{{- end -}}

{{- define "radio" -}}
<div class="form-builder-radio-group">
{{- $field := . -}}
{{- range .Options}}
<label class="form-builder-radio-option"><input type="radio" name="{{$field.Name}}" value="{{.}}" class="form-builder-radio"{{if $field.Required}} required{{end}} /><span>{{.}}</span></label>
{{- end}}
</div>
{{- end -}}

{{- define "checkbox" -}}
<div class="form-builder-checkbox-group">
{{- $field := . -}}
{{- range .Options}}
<label class="form-builder-checkbox-option"><input type="checkbox" name="{{$field.Name}}[]" value="{{.}}" class="form-builder-checkbox" /><span>{{.}}</span></label>
{{- end}}
</div>
{{- end -}}

{{- define "file" -}}
<input type="file" id="{{.ID}}" name="{{.Name}}" class="form-builder-file"{{if .Required}} required{{end}} />
{{- end -}}

{{- define "link" -}}
<a href="{{.LinkURL}}" target="{{.LinkTarget}}" class="form-builder-link-button form-builder-link-{{.ButtonStyle}}" id="{{.ID}}"{{if eq .LinkTarget "_blank"}} rel="noopener noreferrer"{{end}}>{{.ButtonText}}</a>
{{- end -}}

{{- define "field" -}}
<div class="form-builder-field form-builder-field-{{.Type}}" data-field-id="{{.ID}}">
<label for="{{.ID}}">{{.Label}}{{if .Required}} <span class="form-builder-required">*</span>{{end}}</label>
{{if eq .Type "textarea"}}{{template "textarea" .}}
{{- else if eq .Type "select"}}{{template "select" .}}
{{- else if eq .Type "radio"}}{{template "radio" .}}
{{- else if eq .Type "checkbox"}}{{template "checkbox" .}}
{{- else if eq .Type "file"}}{{template "file" .}}
{{- else if eq .Type "link"}}{{template "link" .}}
{{- else}}{{template "input" .}}{{end}}
<div class="form-builder-error-message" style="display: none;"></div>
</div>
{{- end -}}

<div class="form-builder-container" id="{{.InstanceID}}" data-form-id="{{.FormID}}">
<form class="form-builder-form" data-instance-id="{{.InstanceID}}">
<div class="form-builder-pages">
{{- range .Pages}}
<div class="form-builder-page" data-page="{{.Number}}"{{if not .First}} style="display: none;"{{end}}>
{{- range .Fields}}
{{template "field" .}}
{{- end}}
</div>
{{- end}}
</div>
<div class="form-builder-navigation">
<button type="button" class="form-builder-btn form-builder-btn-back" style="display: none;">Back</button>
<button type="button" class="form-builder-btn form-builder-btn-next"{{if eq .PageCount 1}} style="display: none;"{{end}}>Next</button>
<button type="submit" class="form-builder-btn form-builder-btn-submit"{{if gt .PageCount 1}} style="display: none;"{{end}}>Submit</button>
</div>
<div class="form-builder-progress">
<span class="form-builder-page-current">1</span>
<span class="form-builder-page-separator">/</span>
<span class="form-builder-page-total">{{.PageCount}}</span>
</div>
</form>
<div class="form-builder-success" style="display: none;">
<h3>Form Submitted Successfully!</h3>
<p>Thank you for your submission.</p>
</div>
<script type="application/json" class="form-builder-bootstrap" data-instance-id="{{.InstanceID}}">{{.Bootstrap}}</script>
</div>
`))
